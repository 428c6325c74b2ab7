package filter

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/powerdatagen/datagen/internal/config"
	"github.com/powerdatagen/datagen/internal/grid"
	"github.com/powerdatagen/datagen/internal/grid/gridtest"
	"github.com/powerdatagen/datagen/internal/topology"
)

type mockChecker struct {
	mock.Mock
}

func (m *mockChecker) UnsuppliedBuses(net *grid.Network) ([]int, error) {
	args := m.Called(net)
	buses, _ := args.Get(0).([]int)
	return buses, args.Error(1)
}

func ptr[T any](v T) *T { return &v }

// solved returns the three-bus network with flat results.
func solved() *grid.Network {
	net := gridtest.ThreeBus()
	net.Results = grid.NewResults(net)
	for i := range net.Results.Bus {
		net.Results.Bus[i].VmPu = 1
	}
	for i := range net.Results.Line {
		net.Results.Line[i].LoadingPercent = 40
	}
	return net
}

func allAllowed() Criteria {
	return Criteria{AllowDisconnectedBus: true, AllowNegativeLoad: true, AllowOutOfRangeGen: true}
}

func TestEvaluate_DisconnectedBus(t *testing.T) {
	net := solved()
	checker := new(mockChecker)
	checker.On("UnsuppliedBuses", net).Return([]int{2}, nil).Once()

	v, err := New(Criteria{AllowNegativeLoad: true, AllowOutOfRangeGen: true}, checker).Evaluate(net)
	require.NoError(t, err)
	assert.True(t, v.Reject)
	assert.Equal(t, map[Criterion]int{DisconnectedBus: 1}, v.Violations)
	checker.AssertExpectations(t)

	// Allowed: the checker is not consulted and the criterion is absent.
	allowed := new(mockChecker)
	v, err = New(allAllowed(), allowed).Evaluate(net)
	require.NoError(t, err)
	assert.False(t, v.Reject)
	assert.NotContains(t, v.Violations, DisconnectedBus)
	allowed.AssertNotCalled(t, "UnsuppliedBuses", mock.Anything)
}

func TestEvaluate_DisconnectedBusWithTopologyChecker(t *testing.T) {
	net := solved()
	net.Line[1].InService = false
	net.Line[2].InService = false

	v, err := New(Criteria{AllowNegativeLoad: true, AllowOutOfRangeGen: true}, topology.NewChecker()).Evaluate(net)
	require.NoError(t, err)
	assert.True(t, v.Reject)
	assert.Equal(t, 1, v.Violations[DisconnectedBus])
}

func TestEvaluate_Overflow(t *testing.T) {
	net := solved()
	c := allAllowed()
	c.MaxLoadingPercent = ptr(80.0)

	v, err := New(c, nil).Evaluate(net)
	require.NoError(t, err)
	assert.False(t, v.Reject)
	assert.Equal(t, map[Criterion]int{Overflow: 0}, v.Violations)

	net.Results.Trafo = []grid.BranchResult{{LoadingPercent: 80.5}}
	v, err = New(c, nil).Evaluate(net)
	require.NoError(t, err)
	assert.True(t, v.Reject)
	assert.Equal(t, 1, v.Violations[Overflow])
}

func TestEvaluate_NegativeLoad(t *testing.T) {
	net := solved()
	c := allAllowed()
	c.AllowNegativeLoad = false

	net.Load[0].PMW = -0.00005
	v, err := New(c, nil).Evaluate(net)
	require.NoError(t, err)
	assert.False(t, v.Reject, "within tolerance")

	// Out-of-service loads count too.
	net.Load[1].PMW = -3
	net.Load[1].InService = false
	v, err = New(c, nil).Evaluate(net)
	require.NoError(t, err)
	assert.True(t, v.Reject)
	assert.Equal(t, map[Criterion]int{NegativeLoad: 1}, v.Violations)
}

func TestEvaluate_OutOfRangeGen(t *testing.T) {
	tests := []struct {
		name      string
		p         float64
		inService bool
		want      int
	}{
		{"inside", 200, true, 0},
		{"at max within tolerance", 400.00005, true, 0},
		{"above max", 401, true, 1},
		{"below min", -1, true, 1},
		{"out of service ignored", 900, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			net := solved()
			net.Gen[0].PMW = tt.p
			net.Gen[0].InService = tt.inService
			c := allAllowed()
			c.AllowOutOfRangeGen = false

			v, err := New(c, nil).Evaluate(net)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Violations[OutOfRangeGen])
			assert.Equal(t, tt.want == 1, v.Reject)
		})
	}
}

func TestEvaluate_VoltageViolations(t *testing.T) {
	net := solved()
	net.Results.Bus[1].VmPu = 1.12
	net.Results.Bus[2].VmPu = 0.85
	c := allAllowed()
	c.MaxCountVoltageViolation = ptr(1)

	v, err := New(c, nil).Evaluate(net)
	require.NoError(t, err)
	assert.True(t, v.Reject)
	assert.Equal(t, 1, v.Violations[VoltageViolations])

	c.MaxCountVoltageViolation = ptr(2)
	v, err = New(c, nil).Evaluate(net)
	require.NoError(t, err)
	assert.False(t, v.Reject)
	assert.Equal(t, 0, v.Violations[VoltageViolations])
}

func TestEvaluate_DeEnergizedBusNotAVoltageViolation(t *testing.T) {
	net := solved()
	net.Results.Bus[2].VmPu = 0
	c := allAllowed()
	c.MaxCountVoltageViolation = ptr(0)

	v, err := New(c, nil).Evaluate(net)
	require.NoError(t, err)
	assert.False(t, v.Reject)
}

func TestEvaluate_CheckerError(t *testing.T) {
	net := solved()
	checker := new(mockChecker)
	checker.On("UnsuppliedBuses", net).Return(nil, errors.New("boom"))

	_, err := New(Criteria{}, checker).Evaluate(net)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestEvaluate_MissingResults(t *testing.T) {
	c := allAllowed()
	c.MaxLoadingPercent = ptr(100.0)

	_, err := New(c, nil).Evaluate(gridtest.ThreeBus())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no solver results")
}

func TestEvaluate_MultipleCriteria(t *testing.T) {
	net := solved()
	net.Load[0].PMW = -5
	net.Gen[0].PMW = 500
	checker := new(mockChecker)
	checker.On("UnsuppliedBuses", net).Return([]int(nil), nil)

	c := Criteria{MaxLoadingPercent: ptr(100.0), MaxCountVoltageViolation: ptr(0)}
	v, err := New(c, checker).Evaluate(net)
	require.NoError(t, err)
	assert.True(t, v.Reject)
	assert.Equal(t, map[Criterion]int{
		Overflow:          0,
		DisconnectedBus:   0,
		NegativeLoad:      1,
		OutOfRangeGen:     1,
		VoltageViolations: 0,
	}, v.Violations)
}

func TestCriteriaFromConfig(t *testing.T) {
	c := CriteriaFromConfig(config.FilteringConfig{
		MaxLoadingPercent:    ptr(90.0),
		AllowDisconnectedBus: true,
	})
	assert.Equal(t, []Criterion{Overflow, NegativeLoad, OutOfRangeGen}, c.Enabled())
	assert.Equal(t, 90.0, *c.MaxLoadingPercent)
	assert.Empty(t, allAllowed().Enabled())
}

func TestFilter_CriteriaReportsConfiguration(t *testing.T) {
	c := CriteriaFromConfig(config.FilteringConfig{MaxCountVoltageViolation: ptr(2)})
	f := New(c, nil)
	assert.Equal(t, c, f.Criteria())
	assert.Equal(t, []Criterion{DisconnectedBus, NegativeLoad, OutOfRangeGen, VoltageViolations}, f.Criteria().Enabled())
}
