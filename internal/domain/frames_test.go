package domain

import (
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExceptionFrom(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrPerClientQuota, ExcPerClientQuota},
		{ErrGlobalQuota, ExcGlobalQuota},
		{ErrServerBusy, ExcServerBusy},
		{ErrUnknownEnvironment, ExcUnknownEnv},
		{ErrWorkerStartup, ExcWorkerStartup},
		{ErrWorkerDied, ExcWorkerDied},
		{ErrCancelled, ExcCancelled},
		{ErrShutdown, ExcShutdown},
		{ErrMalformedRequest, ExcMalformed},
		{errors.New("anything else"), ExcUserCode},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			f := ExceptionFrom(tc.err)
			assert.Equal(t, FrameException, f.Kind)
			assert.Equal(t, tc.want, f.ExcType)
			assert.Equal(t, tc.err.Error(), f.Message)
		})
	}
}

func TestExceptionFromWrapped(t *testing.T) {
	f := ExceptionFrom(fmt.Errorf("op=pool.acquire: %w", ErrGlobalQuota))
	assert.Equal(t, ExcGlobalQuota, f.ExcType)
}

func TestEnvironmentNormalize(t *testing.T) {
	env, err := Environment("").Normalize()
	require.NoError(t, err)
	assert.Equal(t, SystemEnvironment, env)

	env, err = SystemEnvironment.Normalize()
	require.NoError(t, err)
	assert.True(t, env.IsSystem())

	env, err = Environment("/tmp/envs/../envs/py").Normalize()
	require.NoError(t, err)
	assert.Equal(t, Environment(filepath.Clean("/tmp/envs/py")), env)

	abs, err := Environment("relative/env").Normalize()
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(abs.String()))
}

func TestRequestKindValid(t *testing.T) {
	for _, k := range []RequestKind{
		RunCode, RunCommand, InstallRequirements, SetEnvVars,
		SwitchInterpreter, DeleteInterpreter, ShutdownClient, ListEnvironments,
	} {
		assert.True(t, k.Valid(), string(k))
	}
	assert.False(t, RequestKind("").Valid())
	assert.False(t, RequestKind("reboot_universe").Valid())
}

func TestFrameTerminal(t *testing.T) {
	assert.True(t, EndFrame().Terminal())
	assert.False(t, NewResult(1).Terminal())
	assert.False(t, NewException(ExcUserCode, "x", "").Terminal())
}
