// Package resumable implements the client side of a chunked, resumable HTTP
// upload protocol (the tus 1.0.0 core: creation, offset discovery, and
// offset-addressed PATCH chunks).
//
// An upload survives partial failure: after a transport error or an offset
// conflict the client asks the server for its current offset and continues
// from there, so bytes already stored are never re-sent. Chunk attempts are
// retried with exponential backoff; client errors other than 409 are
// permanent.
package resumable
