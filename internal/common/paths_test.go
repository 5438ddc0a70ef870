package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"root", "/", ""},
		{"dot", ".", ""},
		{"simple", "etc", "etc"},
		{"leading_slash", "/etc", "etc"},
		{"trailing_slash", "etc/", "etc"},
		{"both_slashes", "/etc/", "etc"},
		{"nested", "/var/log/boot.log", "var/log/boot.log"},
		{"dot_middle", "var/./log", "var/log"},
		{"dotdot_middle", "var/../etc", "etc"},
		{"double_slash", "var//log", "var/log"},
		{"many_slashes", "///var///log///", "var/log"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, NormalizePath(tt.input), "NormalizePath(%q)", tt.input)
		})
	}
}

func TestSplitPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"root", "/", nil},
		{"single", "etc", []string{"etc"}},
		{"leading_slash", "/etc", []string{"etc"}},
		{"nested", "/var/log/boot.log", []string{"var", "log", "boot.log"}},
		{"trailing_slash", "var/log/", []string{"var", "log"}},
		{"dot_collapsed", "var/./log", []string{"var", "log"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, SplitPath(tt.input), "SplitPath(%q)", tt.input)
		})
	}
}

func TestJoinParentBase(t *testing.T) {
	t.Parallel()

	t.Run("join normalizes", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "var/log", JoinPath("/var/", "/log"))
		assert.Equal(t, "", JoinPath())
		assert.Equal(t, "a/b/c", JoinPath("a", "", "b", "c"))
	})

	t.Run("parent of nested path", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "var/log", ParentPath("/var/log/boot.log"))
		assert.Equal(t, "", ParentPath("/etc"))
		assert.Equal(t, "", ParentPath("/"))
	})

	t.Run("base name", func(t *testing.T) {
		t.Parallel()
		assert.Equal(t, "boot.log", BaseName("/var/log/boot.log"))
		assert.Equal(t, "etc", BaseName("etc/"))
		assert.Equal(t, "", BaseName("/"))
	})
}

func TestLockPath(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "disk.img.lock", LockPath("disk.img"))
	assert.Equal(t, "/tmp/a.img.lock", LockPath("/tmp/a.img"))
}
