package shell_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/termblocks/internal/domain/block"
	"github.com/GriffinCanCode/termblocks/internal/domain/completion"
	"github.com/GriffinCanCode/termblocks/internal/domain/monitor"
	"github.com/GriffinCanCode/termblocks/internal/domain/shell"
	"github.com/GriffinCanCode/termblocks/internal/shared/id"
	"github.com/GriffinCanCode/termblocks/internal/testutil"
)

const waitFor = 3 * time.Second

func newShell(t *testing.T, term *testutil.FakeTerminal, opts shell.Options) *shell.Shell {
	t.Helper()
	if opts.WorkingDir == "" {
		opts.WorkingDir = "/home/user"
		opts.Home = "/home/user"
	}
	s := shell.New(term, opts)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func submit(t *testing.T, s *shell.Shell, command string) block.Block {
	t.Helper()
	b, err := s.Submit(context.Background(), command, "")
	require.NoError(t, err)
	return b
}

func waitTerminal(t *testing.T, s *shell.Shell, blockID id.BlockID) block.Block {
	t.Helper()
	var b block.Block
	require.Eventually(t, func() bool {
		var err error
		b, err = s.Block(blockID)
		return err == nil && b.Status.IsTerminal()
	}, waitFor, 5*time.Millisecond, "block %s never finished", blockID)
	return b
}

func waitTranscript(t *testing.T, term *testutil.FakeTerminal, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		got, _ := term.Snapshot()
		return strings.Contains(got, text)
	}, waitFor, 5*time.Millisecond)
}

func nextFailure(t *testing.T, sub interface {
	C() <-chan monitor.Failure
}) monitor.Failure {
	t.Helper()
	select {
	case f := <-sub.C():
		return f
	case <-time.After(waitFor):
		t.Fatal("no failure event")
		return monitor.Failure{}
	}
}

func TestEchoProducesSuccessBlock(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})

	b := submit(t, s, "echo 'Test Output'")
	assert.Equal(t, block.StatusExecuting, b.Status)

	done := waitTerminal(t, s, b.ID)
	assert.Equal(t, block.StatusSuccess, done.Status)
	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 0, *done.ExitCode)
	assert.Equal(t, "Test Output\n", done.Output)
	assert.NotContains(t, done.Output, "__TB_EXIT_")
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))
}

func TestMultiLineOutputAppearsOnce(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})

	b := submit(t, s, "echo Line 1; echo Line 2; echo Line 3")
	done := waitTerminal(t, s, b.ID)

	assert.Equal(t, block.StatusSuccess, done.Status)
	assert.Equal(t, "Line 1\nLine 2\nLine 3\n", done.Output)
	for _, line := range []string{"Line 1", "Line 2", "Line 3"} {
		assert.Equal(t, 1, strings.Count(done.Output, line), line)
	}
}

func TestSequentialBlocksDoNotLeak(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})

	first := waitTerminal(t, s, submit(t, s, "echo first").ID)
	second := waitTerminal(t, s, submit(t, s, "echo second").ID)

	assert.Equal(t, "first\n", first.Output)
	assert.Equal(t, "second\n", second.Output)
	assert.NotContains(t, second.Output, "first")
}

func TestFailedCommandPublishesFailure(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})
	sub, err := s.ObserveFailures()
	require.NoError(t, err)
	defer sub.Close()

	b := submit(t, s, "cat /nonexistent")
	done := waitTerminal(t, s, b.ID)

	assert.Equal(t, block.StatusFailure, done.Status)
	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 1, *done.ExitCode)
	assert.Contains(t, done.Output, "No such file or directory")

	f := nextFailure(t, sub)
	assert.Equal(t, b.ID, f.BlockID)
	assert.Equal(t, "cat /nonexistent", f.Command)
	assert.Equal(t, "No such file or directory", f.Message)
	assert.Equal(t, "command", f.KindName)
	require.NotNil(t, f.ExitCode)
	assert.Equal(t, 1, *f.ExitCode)
}

func TestUnknownCommandFails(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})

	done := waitTerminal(t, s, submit(t, s, "frobnicate").ID)
	assert.Equal(t, block.StatusFailure, done.Status)
	require.NotNil(t, done.ExitCode)
	assert.Equal(t, 127, *done.ExitCode)
}

func TestQueuedCommandsRunInOrder(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{})

	a := submit(t, s, "echo a")
	b := submit(t, s, "echo b")
	c := submit(t, s, "echo c")

	for want, blockID := range map[string]id.BlockID{"a\n": a.ID, "b\n": b.ID, "c\n": c.ID} {
		done := waitTerminal(t, s, blockID)
		assert.Equal(t, block.StatusSuccess, done.Status)
		assert.Equal(t, want, done.Output)
	}

	var commands []string
	for _, w := range term.Writes() {
		if !strings.Contains(w, "__TB_EXIT_") {
			commands = append(commands, w)
		}
	}
	assert.Equal(t, []string{"echo a\n", "echo b\n", "echo c\n"}, commands)
}

func TestCancelRunningCommand(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{})

	b := submit(t, s, "sleep 30")
	waitTranscript(t, term, "sleep 30\n")

	canceled, err := s.Cancel(b.ID)
	require.NoError(t, err)
	assert.Equal(t, block.StatusCanceled, canceled.Status)
	require.NotNil(t, canceled.ExitCode)
	assert.Equal(t, block.ExitCodeInterrupted, *canceled.ExitCode)
	assert.True(t, strings.HasSuffix(canceled.Output, block.CanceledMarker))
	assert.Equal(t, 1, term.Interrupts())

	after := waitTerminal(t, s, submit(t, s, "echo after").ID)
	assert.Equal(t, block.StatusSuccess, after.Status)
	assert.Equal(t, "after\n", after.Output)
}

func TestCancelQueuedCommand(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{})

	running := submit(t, s, "sleep 30")
	queued := submit(t, s, "echo never")

	canceled, err := s.Cancel(queued.ID)
	require.NoError(t, err)
	assert.Equal(t, block.StatusCanceled, canceled.Status)
	assert.Equal(t, 0, term.Interrupts())

	got, err := s.Block(running.ID)
	require.NoError(t, err)
	assert.Equal(t, block.StatusExecuting, got.Status)
}

func TestInactivityTimeout(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{InactivityTimeout: 100 * time.Millisecond})

	done := waitTerminal(t, s, submit(t, s, "sleep 30").ID)
	assert.Equal(t, block.StatusUnknown, done.Status)
	assert.Nil(t, done.ExitCode)
	assert.Contains(t, done.Diagnostic, "no output")
	assert.Equal(t, 1, term.Interrupts())
}

func TestUnrecognizedPromptCompletesAfterGrace(t *testing.T) {
	term := testutil.NewFakeTerminal()
	term.Prompt = "λ "
	s := newShell(t, term, shell.Options{PromptGrace: 20 * time.Millisecond})

	done := waitTerminal(t, s, submit(t, s, "echo hi").ID)
	assert.Equal(t, block.StatusSuccess, done.Status)
	assert.True(t, strings.HasPrefix(done.Output, "hi\n"), done.Output)
}

func TestCustomPromptMatcher(t *testing.T) {
	lambda, err := completion.NewPromptMatcher("lambda", `λ\s*$`)
	require.NoError(t, err)

	term := testutil.NewFakeTerminal()
	term.Prompt = "λ "
	s := newShell(t, term, shell.Options{
		Prompts:     []completion.PromptMatcher{lambda},
		PromptGrace: time.Hour,
	})

	done := waitTerminal(t, s, submit(t, s, "echo hi").ID)
	assert.Equal(t, block.StatusSuccess, done.Status)
	assert.Equal(t, "hi\n", done.Output)
}

func TestDispatchFailure(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{})
	sub, err := s.ObserveFailures()
	require.NoError(t, err)
	defer sub.Close()

	term.FailWrites(errors.New("broken pipe"))
	b, err := s.Submit(context.Background(), "echo x", "")
	require.NoError(t, err)
	assert.Equal(t, block.StatusFailure, b.Status)
	assert.Contains(t, b.Diagnostic, "broken pipe")

	f := nextFailure(t, sub)
	assert.Equal(t, b.ID, f.BlockID)
	assert.Equal(t, "dispatch", f.KindName)
}

func TestShellExitFailsRunningBlock(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{})
	sub, err := s.ObserveFailures()
	require.NoError(t, err)
	defer sub.Close()

	b := submit(t, s, "sleep 30")
	waitTranscript(t, term, "sleep 30\n")
	term.Exit(errors.New("exit status 2"))

	select {
	case <-s.Done():
	case <-time.After(waitFor):
		t.Fatal("shell not done")
	}

	got, err := s.Block(b.ID)
	require.NoError(t, err)
	assert.Equal(t, block.StatusFailure, got.Status)
	assert.Contains(t, got.Diagnostic, "exit status 2")

	f := nextFailure(t, sub)
	assert.Equal(t, "session_terminated", f.KindName)

	late, err := s.Submit(context.Background(), "echo late", "")
	assert.ErrorIs(t, err, shell.ErrSessionClosed)
	assert.Equal(t, block.StatusFailure, late.Status)
	assert.False(t, s.Info().Active)
	assert.ErrorIs(t, s.Resize(100, 30), shell.ErrSessionClosed)
}

func TestWorkingDirectoryTracking(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})

	cd := submit(t, s, "cd /tmp")
	assert.Equal(t, "/home/user", cd.WorkingDirectory)
	waitTerminal(t, s, cd.ID)

	next := submit(t, s, "echo here")
	assert.Equal(t, "/tmp", next.WorkingDirectory)
	assert.Equal(t, "/tmp", s.WorkingDirectory().Current)
	assert.Equal(t, "/home/user", s.WorkingDirectory().Previous)

	explicit, err := s.Submit(context.Background(), "echo there", "/srv")
	require.NoError(t, err)
	assert.Equal(t, "/srv", explicit.WorkingDirectory)
}

func TestTranscriptCompaction(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{CompactThreshold: 64})

	for _, word := range []string{"alpha", "bravo", "charlie", "delta", "echo"} {
		done := waitTerminal(t, s, submit(t, s, "echo "+word).ID)
		assert.Equal(t, word+"\n", done.Output)
	}

	text, epoch := term.Snapshot()
	assert.Greater(t, epoch, uint64(0))
	assert.Less(t, len(text), 64*4)
}

func TestHistoryOperations(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{})

	b := waitTerminal(t, s, submit(t, s, "echo one").ID)

	collapsed, err := s.SetExpanded(b.ID, false)
	require.NoError(t, err)
	assert.False(t, collapsed.Expanded)

	_, err = s.Block(id.BlockID("missing"))
	assert.ErrorIs(t, err, block.ErrNotFound)

	assert.Len(t, s.Blocks(), 1)
	assert.Equal(t, 1, s.ClearHistory())
	assert.Empty(t, s.Blocks())

	// idle, so the consumed transcript went with the history
	text, epoch := term.Snapshot()
	assert.Empty(t, text)
	assert.Greater(t, epoch, uint64(0))
}

func TestObserveBlocks(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})
	obs := s.ObserveBlocks()
	defer obs.Close()

	b := submit(t, s, "echo watched")

	deadline := time.After(waitFor)
	for {
		select {
		case list := <-obs.C():
			for _, got := range list {
				if got.ID == b.ID && got.Status == block.StatusSuccess {
					assert.Equal(t, "watched\n", got.Output)
					return
				}
			}
		case <-deadline:
			t.Fatal("never observed the finished block")
		}
	}
}

func TestResizeAndInfo(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{})

	require.NoError(t, s.Resize(120, 40))
	cols, rows := term.Size()
	assert.Equal(t, 120, cols)
	assert.Equal(t, 40, rows)

	info := s.Info()
	assert.Equal(t, s.ID(), info.ID)
	assert.True(t, info.Active)
	assert.Equal(t, "/home/user", info.WorkingDirectory)
}

func TestCloseSettlesBlocks(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := shell.New(term, shell.Options{WorkingDir: "/"})
	require.NoError(t, s.Start())

	b := submit(t, s, "sleep 30")
	require.NoError(t, s.Close())

	got, err := s.Block(b.ID)
	require.NoError(t, err)
	assert.Equal(t, block.StatusFailure, got.Status)
	assert.NoError(t, s.Close(), "close is idempotent")
}

func TestInitCommandsAreNotAttributed(t *testing.T) {
	term := testutil.NewFakeTerminal()
	s := newShell(t, term, shell.Options{InitCommands: []string{"echo setup"}})
	waitTranscript(t, term, "setup\n$ ")

	done := waitTerminal(t, s, submit(t, s, "echo real").ID)
	assert.Equal(t, "real\n", done.Output)
}

func TestOutputWithoutTrailingNewlineIsKept(t *testing.T) {
	term := testutil.NewFakeTerminal()
	term.JoinPrompt = true
	s := newShell(t, term, shell.Options{})

	done := waitTerminal(t, s, submit(t, s, "printf 'Test Output'").ID)
	assert.Equal(t, block.StatusSuccess, done.Status)
	assert.Equal(t, "Test Output", done.Output)

	next := waitTerminal(t, s, submit(t, s, "echo next").ID)
	assert.Equal(t, "next\n", next.Output)
}

func TestEchoedErrorWordsDoNotRaiseFailure(t *testing.T) {
	term := testutil.NewFakeTerminal()
	term.Handle("grep", func([]string, <-chan struct{}) (string, int) { return "found it\n", 0 })
	s := newShell(t, term, shell.Options{})
	sub, err := s.ObserveFailures()
	require.NoError(t, err)
	defer sub.Close()

	grep := waitTerminal(t, s, submit(t, s, "grep 'No such file or directory' notes.txt").ID)
	assert.Equal(t, block.StatusSuccess, grep.Status)
	assert.Equal(t, "found it\n", grep.Output)

	cat := waitTerminal(t, s, submit(t, s, "cat /nonexistent").ID)
	f := nextFailure(t, sub)
	assert.Equal(t, cat.ID, f.BlockID, "the grep block published no failure")
}

func TestFailuresAreNotReplayedToLateSubscribers(t *testing.T) {
	s := newShell(t, testutil.NewFakeTerminal(), shell.Options{})

	early := waitTerminal(t, s, submit(t, s, "cat /nonexistent").ID)
	assert.Equal(t, block.StatusFailure, early.Status)
	// blocks finalize on one goroutine, so once the next block is done the
	// early failure has been sent
	waitTerminal(t, s, submit(t, s, "echo sync").ID)

	sub, err := s.ObserveFailures()
	require.NoError(t, err)
	defer sub.Close()

	late := waitTerminal(t, s, submit(t, s, "cat /missing").ID)
	f := nextFailure(t, sub)
	assert.Equal(t, late.ID, f.BlockID)
	assert.Equal(t, "cat /missing", f.Command)
}
