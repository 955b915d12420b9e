package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadSkipsInvalidCars(t *testing.T) {
	c, err := Load(DefaultSource)
	require.NoError(t, err)

	_, ok := c.ByID("bad_car")
	require.False(t, ok, "car with zero speed must be skipped")

	mustang, ok := c.ByID("mustang_66")
	require.True(t, ok)
	require.Equal(t, KindCar, mustang.Kind)
	require.Equal(t, 271.0, mustang.Metrics.HP)
}

func TestLoadParsesActionEffects(t *testing.T) {
	c, err := Load(DefaultSource)
	require.NoError(t, err)

	boost, ok := c.ByID("nitro_boost")
	require.True(t, ok)
	require.Equal(t, EffectMetricModTemp, boost.Effect.Type)
	require.Equal(t, MetricSpeed, boost.Effect.TargetMetric)
	require.Equal(t, ModifierPercentage, boost.Effect.ModifierKind)
	require.Equal(t, TargetSelf, boost.Effect.Target)

	photo, ok := c.ByID("photo_finish")
	require.True(t, ok)
	require.Equal(t, EffectOverrideMetric, photo.Effect.Type)
	require.Len(t, photo.Effect.AllowedMetrics, 5)

	drop, ok := c.ByID("road_rage")
	require.True(t, ok)
	require.Equal(t, EffectDropCard, drop.Effect.Type)
}

func TestRanksAreAssignedAndBucketed(t *testing.T) {
	c, err := Load(DefaultSource)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, car := range c.Cars() {
		require.NotEmpty(t, car.Rank)
		seen[car.Rank] = true
	}
	require.NotEmpty(t, seen)
}

func TestDuplicateIDsRejected(t *testing.T) {
	_, err := Load(`
cars = {
  { id = "dup", kind = "car", speed = 1, hp = 1, accel = 1, weight = 1, year = 1 },
  { id = "dup", kind = "car", speed = 2, hp = 2, accel = 2, weight = 2, year = 2 },
}
`)
	require.Error(t, err)
}

func TestLoadOnceIsCachedAcrossCalls(t *testing.T) {
	c1, err := LoadOnce(DefaultSource)
	require.NoError(t, err)
	// A second call with a different source is ignored: the singleton loads
	// exactly once for the life of the process.
	c2, err := LoadOnce(`cars = {}`)
	require.NoError(t, err)
	require.Same(t, c1, c2)
}
