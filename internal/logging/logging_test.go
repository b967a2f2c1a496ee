package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNew_BuildsNamedLogger(t *testing.T) {
	l, err := New("session", "debug")
	require.NoError(t, err)
	require.NotNil(t, l)

	var iface Logger = l
	iface.Debugf("hello %s", "world")
	iface.Infof("hello %s", "world")
	iface.Warnf("hello %s", "world")
	iface.Errorf("hello %s", "world")
}

func TestNew_UnknownLevelFallsBackToInfo(t *testing.T) {
	l, err := New("transport", "bogus")
	require.NoError(t, err)
	require.True(t, l.Desugar().Core().Enabled(parseLevel("info")))
}

func TestDevelopment_Builds(t *testing.T) {
	l, err := Development("scheduler")
	require.NoError(t, err)
	require.NotNil(t, l)
}

func TestNop_DiscardsEverything(t *testing.T) {
	l := Nop()
	require.NotPanics(t, func() {
		l.Debugf("x")
		l.Infof("x")
		l.Warnf("x")
		l.Errorf("x")
	})
}
