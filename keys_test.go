package arkive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/arkivehq/arkive"
)

func TestIsValidKey(t *testing.T) {
	valid := []string{
		"file.txt",
		"dir/file.txt",
		"deep/nested/path/archive.zip",
		"with-dash_underscore.tar.gz",
	}
	for _, k := range valid {
		assert.True(t, arkive.IsValidKey(k), "expected valid: %q", k)
	}

	invalid := []string{
		"",
		"/absolute",
		"trailing/",
		"../escape",
		"a/../b",
		"double//slash",
		"has space.txt",
		"bad\x00byte",
		"que?stion",
		"./dot",
		"a/./b",
	}
	for _, k := range invalid {
		assert.False(t, arkive.IsValidKey(k), "expected invalid: %q", k)
	}
}
