package processfx_test

import (
	"syscall"
	"testing"

	"github.com/eser/daemonkit/pkg/ajan/processfx"
	"github.com/stretchr/testify/require"
)

func TestApplyProcessEnvironment_EmptyOptionsAreANoop(t *testing.T) {
	t.Parallel()

	cfg := &processfx.Config{} //nolint:exhaustruct

	require.NoError(t, processfx.ApplyProcessEnvironment(cfg))
}

// Not parallel: the umask is process-global state.
func TestApplyProcessEnvironment_AppliesUmask(t *testing.T) { //nolint:paralleltest
	previous := syscall.Umask(0)
	defer syscall.Umask(previous)

	cfg := &processfx.Config{} //nolint:exhaustruct
	cfg.ChUmask = "027"

	require.NoError(t, processfx.ApplyProcessEnvironment(cfg))
	require.Equal(t, 0o027, syscall.Umask(previous))
}

func TestApplyProcessEnvironment_RejectsMalformedUmask(t *testing.T) {
	t.Parallel()

	cfg := &processfx.Config{} //nolint:exhaustruct
	cfg.ChUmask = "not-octal"

	require.ErrorIs(t, processfx.ApplyProcessEnvironment(cfg), processfx.ErrPrivilegeDropFailed)
}

func TestApplyProcessEnvironment_RejectsUnknownUser(t *testing.T) {
	t.Parallel()

	cfg := &processfx.Config{} //nolint:exhaustruct
	cfg.ChUser = "no-such-daemonkit-user"

	err := processfx.ApplyProcessEnvironment(cfg)
	require.ErrorIs(t, err, processfx.ErrPrivilegeDropFailed)
	require.ErrorIs(t, err, processfx.ErrUnknownUser)
}

func TestApplyProcessEnvironment_RejectsUnknownGroup(t *testing.T) {
	t.Parallel()

	cfg := &processfx.Config{} //nolint:exhaustruct
	cfg.ChGroup = "no-such-daemonkit-group"

	err := processfx.ApplyProcessEnvironment(cfg)
	require.ErrorIs(t, err, processfx.ErrPrivilegeDropFailed)
	require.ErrorIs(t, err, processfx.ErrUnknownGroup)
}
