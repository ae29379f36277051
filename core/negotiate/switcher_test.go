package negotiate_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sourceshift/veiltun/core/negotiate"
	"github.com/sourceshift/veiltun/mocks"
	"github.com/sourceshift/veiltun/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func fourCandidates() []negotiate.Candidate {
	return []negotiate.Candidate{
		{Protocol: negotiate.WireGuard, Port: 1001, Timeout: time.Second},
		{Protocol: negotiate.Shadowsocks, Port: 1002, Timeout: time.Second},
		{Protocol: negotiate.OpenVPN, Port: 1003, Timeout: time.Second},
		{Protocol: negotiate.Socks5, Port: 1004, Timeout: time.Second},
	}
}

func TestSwitcher_StopsAtFirstWorkingCandidate(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	activator := mocks.NewMockActivator(ctrl)
	cands := fourCandidates()

	// C and D have no expectations: contacting them fails the test.
	gomock.InOrder(
		prober.EXPECT().Probe(gomock.Any(), "vpn.example.net", cands[0]).Return(negotiate.ErrProbeTimeout),
		prober.EXPECT().Probe(gomock.Any(), "vpn.example.net", cands[1]).Return(nil),
		activator.EXPECT().Activate(gomock.Any(), cands[1]).Return(nil),
	)

	s := negotiate.NewSwitcher(cands, prober, activator, testutils.NewTestLogger())
	got, err := s.SelectBest(context.Background(), "vpn.example.net")
	require.NoError(t, err)
	assert.Equal(t, cands[1], got)

	current, ok := s.Current()
	assert.True(t, ok)
	assert.Equal(t, cands[1], current)
}

func TestSwitcher_ActivationFailureFallsThrough(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	activator := mocks.NewMockActivator(ctrl)
	cands := fourCandidates()

	gomock.InOrder(
		prober.EXPECT().Probe(gomock.Any(), gomock.Any(), cands[0]).Return(nil),
		activator.EXPECT().Activate(gomock.Any(), cands[0]).Return(errors.New("interface busy")),
		prober.EXPECT().Probe(gomock.Any(), gomock.Any(), cands[1]).Return(nil),
		activator.EXPECT().Activate(gomock.Any(), cands[1]).Return(nil),
	)

	s := negotiate.NewSwitcher(cands, prober, activator, testutils.NewTestLogger())
	got, err := s.SelectBest(context.Background(), "vpn.example.net")
	require.NoError(t, err)
	assert.Equal(t, negotiate.Shadowsocks, got.Protocol)
}

func TestSwitcher_AllCandidatesExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	activator := mocks.NewMockActivator(ctrl)
	cands := fourCandidates()

	prober.EXPECT().Probe(gomock.Any(), gomock.Any(), cands[0]).Return(negotiate.ErrProbeTimeout)
	prober.EXPECT().Probe(gomock.Any(), gomock.Any(), cands[1]).Return(negotiate.ErrProbeUnavailable)
	prober.EXPECT().Probe(gomock.Any(), gomock.Any(), cands[2]).Return(nil)
	activator.EXPECT().Activate(gomock.Any(), cands[2]).Return(errors.New("no tun device"))
	prober.EXPECT().Probe(gomock.Any(), gomock.Any(), cands[3]).Return(negotiate.ErrProbeTimeout)

	s := negotiate.NewSwitcher(cands, prober, activator, testutils.NewTestLogger())
	_, err := s.SelectBest(context.Background(), "vpn.example.net")

	assert.ErrorIs(t, err, negotiate.ErrAllCandidatesExhausted)
	assert.ErrorIs(t, err, negotiate.ErrProbeTimeout)
	assert.ErrorIs(t, err, negotiate.ErrActivationFailed)
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSwitcher_NoCandidates(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := negotiate.NewSwitcher(nil, mocks.NewMockProber(ctrl), mocks.NewMockActivator(ctrl), testutils.NewTestLogger())

	_, err := s.SelectBest(context.Background(), "vpn.example.net")
	assert.ErrorIs(t, err, negotiate.ErrAllCandidatesExhausted)
}

func TestSwitcher_CancelledBeforeStart(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := negotiate.NewSwitcher(fourCandidates(), mocks.NewMockProber(ctrl), mocks.NewMockActivator(ctrl), testutils.NewTestLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.SelectBest(ctx, "vpn.example.net")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSwitcher_ResetAndCandidatesCopy(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	cands := fourCandidates()
	prober.EXPECT().Probe(gomock.Any(), gomock.Any(), cands[0]).Return(nil)

	s := negotiate.NewSwitcher(cands, prober, nil, testutils.NewTestLogger())
	cands[0].Port = 9999
	assert.Equal(t, 1001, s.Candidates()[0].Port)

	_, err := s.SelectBest(context.Background(), "vpn.example.net")
	require.NoError(t, err)
	s.Reset()
	_, ok := s.Current()
	assert.False(t, ok)
}

func TestSwitcher_RealProbes(t *testing.T) {
	silent := testutils.NewMockUDPServer(nil)
	defer silent.Close()
	pong := testutils.NewMockPongServer()
	defer pong.Close()

	cands := []negotiate.Candidate{
		{Protocol: negotiate.WireGuard, Port: silent.Port(), Timeout: 100 * time.Millisecond},
		{Protocol: negotiate.Shadowsocks, Port: pong.Port(), Timeout: time.Second},
	}

	var activated []negotiate.Candidate
	activator := negotiate.ActivatorFunc(func(ctx context.Context, c negotiate.Candidate) error {
		activated = append(activated, c)
		return nil
	})

	s := negotiate.NewSwitcher(cands, negotiate.NewUDPProber(testutils.NewTestLogger()), activator, testutils.NewTestLogger())
	got, err := s.SelectBest(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, negotiate.Shadowsocks, got.Protocol)
	assert.Equal(t, []negotiate.Candidate{cands[1]}, activated)
}

func TestProbeAll(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	cands := fourCandidates()

	prober.EXPECT().Probe(gomock.Any(), "h", cands[0]).Return(negotiate.ErrProbeTimeout)
	prober.EXPECT().Probe(gomock.Any(), "h", cands[1]).Return(nil)
	prober.EXPECT().Probe(gomock.Any(), "h", cands[2]).Return(nil)
	prober.EXPECT().Probe(gomock.Any(), "h", cands[3]).Return(negotiate.ErrProbeUnavailable)

	results := negotiate.ProbeAll(context.Background(), prober, "h", cands)
	require.Len(t, results, 4)
	assert.False(t, results[0].OK())
	assert.True(t, results[1].OK())
	assert.True(t, results[2].OK())
	assert.ErrorIs(t, results[3].Err, negotiate.ErrProbeUnavailable)
	for i, r := range results {
		assert.Equal(t, cands[i], r.Candidate)
	}
}

func TestProbeChecker(t *testing.T) {
	ctrl := gomock.NewController(t)
	prober := mocks.NewMockProber(ctrl)
	c := negotiate.Candidate{Protocol: negotiate.WireGuard, Port: 51820}
	checker := &negotiate.ProbeChecker{Prober: prober, Host: "h", Candidate: c}

	gomock.InOrder(
		prober.EXPECT().Probe(gomock.Any(), "h", c).Return(nil),
		prober.EXPECT().Probe(gomock.Any(), "h", c).Return(negotiate.ErrProbeTimeout),
		prober.EXPECT().Probe(gomock.Any(), "h", c).Return(context.Canceled),
	)

	up, err := checker.IsUp(context.Background())
	assert.NoError(t, err)
	assert.True(t, up)

	up, err = checker.IsUp(context.Background())
	assert.NoError(t, err)
	assert.False(t, up)

	_, err = checker.IsUp(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDefaultCandidates(t *testing.T) {
	got := negotiate.DefaultCandidates()
	require.Len(t, got, 4)

	assert.Equal(t, "wireguard:51820", got[0].String())
	assert.Equal(t, "shadowsocks:8388", got[1].String())
	assert.Equal(t, "openvpn:1194", got[2].String())
	assert.Equal(t, "socks5:1080", got[3].String())
	assert.Equal(t, 1500*time.Millisecond, got[0].Timeout)
	assert.Equal(t, 2, got[2].Retries)
}

func TestParseProtocol(t *testing.T) {
	p, err := negotiate.ParseProtocol(" WireGuard ")
	require.NoError(t, err)
	assert.Equal(t, negotiate.WireGuard, p)

	var q negotiate.Protocol
	require.NoError(t, q.UnmarshalText([]byte("openvpn")))
	text, err := q.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "openvpn", string(text))

	_, err = negotiate.ParseProtocol("ipsec")
	assert.Error(t, err)
}
