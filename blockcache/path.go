package blockcache

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/das-developers/das2py-server-sub000/dastime"
	"github.com/das-developers/das2py-server-sub000/pipeline"
)

// DataDir returns the directory holding all blocks of a source.
func DataDir(root, localID string) string {
	return filepath.Join(root, "data", filepath.FromSlash(localID))
}

// dateDirs returns the directories above a block file. Each unit nests
// one level below the next larger one, so a day block sits in Y/M.
func dateDirs(t time.Time, u dastime.Unit) []string {
	parts := []string{
		fmt.Sprintf("%04d", t.Year()),
		fmt.Sprintf("%02d", int(t.Month())),
		fmt.Sprintf("%02d", t.Day()),
		fmt.Sprintf("%02d", t.Hour()),
		fmt.Sprintf("%02d", t.Minute()),
	}
	n := int(dastime.Year - u)
	return parts[:n]
}

// blockStamp formats t to the precision of u.
func blockStamp(t time.Time, u dastime.Unit) string {
	switch u {
	case dastime.Year:
		return t.Format("2006")
	case dastime.Month:
		return t.Format("2006-01")
	case dastime.Day:
		return t.Format("2006-01-02")
	case dastime.Hour:
		return t.Format("2006-01-02T15")
	case dastime.Minute:
		return t.Format("2006-01-02T15-04")
	default:
		return t.Format("2006-01-02T15-04-05")
	}
}

// BlockPath returns the file of the block starting at start. The path is a
// function of the block identity (source, options, level, start) only.
func BlockPath(root, localID, options string, level Level, ext string, start time.Time) string {
	u := level.Set.Unit()
	start = dastime.Floor(start, u)
	parts := []string{DataDir(root, localID), pipeline.NormalizeOptions(options), level.Name}
	parts = append(parts, dateDirs(start, u)...)
	name := blockStamp(start, u) + "_" + level.Name
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	parts = append(parts, name)
	return filepath.Join(parts...)
}
