package asset

import (
	"errors"
	"net/url"
	"path"
	"strings"
	"time"
)

// ErrEmptyPath is returned when sanitization leaves nothing of the path.
var ErrEmptyPath = errors.New("path is empty after sanitization")

// IsCommitSHA reports whether s looks like a full git commit SHA: exactly
// 40 lowercase hex characters. Anything else is treated as an alias name.
func IsCommitSHA(s string) bool {
	if len(s) != 40 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// SanitizePath percent-decodes p, drops ".", "..", and empty components,
// and strips control characters. The result has no leading slash. It
// returns ErrEmptyPath when nothing survives.
func SanitizePath(p string) (string, error) {
	if dec, err := url.PathUnescape(p); err == nil {
		p = dec
	}
	parts := strings.Split(p, "/")
	out := parts[:0]
	for _, part := range parts {
		part = stripControl(part)
		switch part {
		case "", ".", "..":
			continue
		}
		out = append(out, part)
	}
	if len(out) == 0 {
		return "", ErrEmptyPath
	}
	return strings.Join(out, "/"), nil
}

func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
}

// CommitKey builds the storage key for a committed asset:
// {owner}/{name}/commits/{commitSha}/{publicPath}. When publicPath is
// empty the file name's base is used instead.
func CommitKey(owner, name, commitSHA, publicPath, fileName string) (string, error) {
	rel := publicPath
	if rel == "" {
		rel = path.Base(fileName)
	}
	rel, err := SanitizePath(rel)
	if err != nil {
		return "", err
	}
	return owner + "/" + name + "/commits/" + commitSHA + "/" + rel, nil
}

// UploadKey builds the storage key for a standalone upload:
// {owner}/{name}/uploads/{YYYY-MM-DD}/{id}-{original-name}. The id (a UUID
// string) is always part of the key, so same-named uploads never collide;
// with no file name the leaf is the id alone.
func UploadKey(owner, name string, when time.Time, id, fileName string) (string, error) {
	leaf := id
	if fileName != "" {
		base, err := SanitizePath(path.Base(fileName))
		if err != nil {
			return "", err
		}
		leaf = id + "-" + base
	}
	return owner + "/" + name + "/uploads/" + when.UTC().Format("2006-01-02") + "/" + leaf, nil
}

// CommitPrefix is the storage-key prefix covering every asset of a commit.
// Used by retention full-mode prefix deletion.
func CommitPrefix(owner, name, commitSHA string) string {
	return owner + "/" + name + "/commits/" + commitSHA + "/"
}
