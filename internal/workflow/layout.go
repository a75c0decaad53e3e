package workflow

import (
	"path/filepath"

	"mediapub/internal/store"
)

// layout maps a package to its working and public directories:
//
//	<work>/<id>/source/<original base name>
//	<work>/<id>/package/...        extracted content, media kept until removal
//	<work>/<id>/thumb.jpg
//	<public>/<id>/                 package.json, timecodes.json, thumb.jpg, sprite.jpg, images/
type layout struct {
	work   string
	public string
}

func (l layout) workDir(id string) string { return filepath.Join(l.work, id) }

func (l layout) sourceDir(id string) string { return filepath.Join(l.workDir(id), "source") }

func (l layout) sourceFile(pkg *store.Package) string {
	return filepath.Join(l.sourceDir(pkg.ID), filepath.Base(pkg.OriginalPath))
}

func (l layout) packageDir(id string) string { return filepath.Join(l.workDir(id), "package") }

func (l layout) mediaPath(id, rel string) string {
	return filepath.Join(l.packageDir(id), filepath.FromSlash(rel))
}

func (l layout) thumbFile(id string) string { return filepath.Join(l.workDir(id), thumbName) }

func (l layout) publicDir(id string) string { return filepath.Join(l.public, id) }

func (l layout) publicPath(id, rel string) string {
	return filepath.Join(l.publicDir(id), filepath.FromSlash(rel))
}

const (
	thumbName         = "thumb.jpg"
	spriteName        = "sprite.jpg"
	imagesDir         = "images"
	packageDataName   = "package.json"
	timecodesDataName = "timecodes.json"
	mergedDir         = "merged"
)
