// Package staging sweeps package directories left behind in the work and
// public trees after their package record is gone.
package staging
