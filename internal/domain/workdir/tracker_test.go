package workdir

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCDSequence(t *testing.T) {
	tr := NewTracker("/", "/home/user")

	assert.True(t, tr.Apply("cd /a"))
	assert.Equal(t, "/a", tr.Current())

	assert.True(t, tr.Apply("cd b"))
	assert.Equal(t, "/a/b", tr.Current())

	assert.True(t, tr.Apply("cd .."))
	assert.Equal(t, "/a", tr.Current())

	assert.True(t, tr.Apply("cd ~"))
	assert.Equal(t, "/home/user", tr.Current())
	assert.Equal(t, "/a", tr.State().Previous)
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name    string
		command string
		want    string
	}{
		{"bare cd", "cd", "/home/user"},
		{"tilde", "cd ~", "/home/user"},
		{"tilde subdir", "cd ~/src/app", "/home/user/src/app"},
		{"absolute", "cd /var/log", "/var/log"},
		{"absolute unclean", "cd /var//log/./", "/var/log"},
		{"relative", "cd proj", "/work/proj"},
		{"dot dot collapse", "cd ../other/./x/..", "/other"},
		{"above root", "cd ../../../..", "/"},
		{"quoted", `cd "My Files"`, "/work/My Files"},
		{"escaped space", `cd My\ Files`, "/work/My Files"},
		{"chained", "cd /tmp && ls", "/tmp"},
		{"flag", "cd -P /opt", "/opt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := NewTracker("/work", "/home/user")
			assert.True(t, tr.Apply(tt.command))
			assert.Equal(t, tt.want, tr.Current())
			assert.Equal(t, "/work", tr.State().Previous)
		})
	}
}

func TestCDDash(t *testing.T) {
	tr := NewTracker("/start", "/home/user")

	assert.False(t, tr.Apply("cd -"), "no previous directory yet")
	assert.Equal(t, "/start", tr.Current())

	tr.Apply("cd /next")
	assert.True(t, tr.Apply("cd -"))
	assert.Equal(t, "/start", tr.Current())
	assert.Equal(t, "/next", tr.State().Previous)

	tr.Apply("cd -")
	assert.Equal(t, "/next", tr.Current())
}

func TestNonCDCommandsAreIgnored(t *testing.T) {
	tr := NewTracker("/work", "/home/user")

	for _, cmd := range []string{"ls -la", "echo cd /tmp", "cdrecord", "", "  ", "git checkout cd"} {
		assert.False(t, tr.Apply(cmd), cmd)
	}
	assert.Equal(t, State{Current: "/work"}, tr.State())
}

func TestParseCD(t *testing.T) {
	arg, ok := ParseCD("  cd   /tmp  ")
	assert.True(t, ok)
	assert.Equal(t, "/tmp", arg)

	arg, ok = ParseCD("cd")
	assert.True(t, ok)
	assert.Equal(t, "", arg)

	_, ok = ParseCD("pushd /tmp")
	assert.False(t, ok)
}

func TestResolveDoesNotMutate(t *testing.T) {
	tr := NewTracker("/work", "/home/user")
	next, ok := tr.Resolve("sub")
	assert.True(t, ok)
	assert.Equal(t, "/work/sub", next)
	assert.Equal(t, "/work", tr.Current())
}

func TestDefaults(t *testing.T) {
	tr := NewTracker("", "")
	assert.Equal(t, "/", tr.Current())

	tr = NewTracker("", "/home/me")
	assert.Equal(t, "/home/me", tr.Current())
}
