package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode_FullPayload(t *testing.T) {
	payload := `{
		"true_target": {"x": 10.5, "y": 0.2},
		"measured_target": {"x": 10, "y": 0},
		"estimated_target": {"x": 10.2, "y": 0.1},
		"intercept_point": {"x": 20, "y": 5},
		"projectile": {"x": 3, "y": 1},
		"explosion": {"x": 4, "y": 2, "frame": 7},
		"turret_angle": 90,
		"threat_level": "HIGH",
		"threat_color": "red",
		"lock_status": 0.5
	}`

	s, err := Decode([]byte(payload))
	require.NoError(t, err)

	require.True(t, s.HasTurret())
	assert.Equal(t, 90.0, *s.TurretAngle)
	assert.Equal(t, 10.0, s.MeasuredTarget.X)
	assert.Equal(t, 10.2, s.EstimatedTarget.X)
	assert.Equal(t, 0.1, s.EstimatedTarget.Y)
	assert.Equal(t, 10.5, s.TrueTarget.X)
	assert.Equal(t, ThreatHigh, s.ThreatLevel)
	assert.Equal(t, ColorRed, s.ThreatColor)
	require.NotNil(t, s.InterceptPoint)
	require.NotNil(t, s.Projectile)
	require.NotNil(t, s.Explosion)
	assert.Equal(t, 7, s.Explosion.Frame)
	assert.Equal(t, 4.0, s.Explosion.Position().X)
	require.NotNil(t, s.LockStatus)
	assert.Equal(t, 0.5, *s.LockStatus)
}

func TestDecode_OptionalLayersAbsent(t *testing.T) {
	payload := `{
		"turret_angle": 90,
		"measured_target": {"x": 10, "y": 0},
		"estimated_target": {"x": 10.2, "y": 0.1},
		"threat_level": "LOW",
		"threat_color": "green",
		"intercept_point": null,
		"projectile": null,
		"explosion": null
	}`

	s, err := Decode([]byte(payload))
	require.NoError(t, err)

	assert.Nil(t, s.InterceptPoint)
	assert.Nil(t, s.Projectile)
	assert.Nil(t, s.Explosion)
	assert.Nil(t, s.LockStatus)
	assert.Nil(t, s.TrueTarget)
}

func TestDecode_MalformedFields(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		check func(t *testing.T, s *Snapshot)
	}{
		{
			name:  "string turret angle",
			input: `{"turret_angle": "north", "estimated_target": {"x": 1, "y": 2}}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Nil(t, s.TurretAngle)
				assert.False(t, s.HasTurret())
				assert.NotNil(t, s.EstimatedTarget)
			},
		},
		{
			name:  "missing estimated target",
			input: `{"turret_angle": 12.5, "measured_target": {"x": 1, "y": 2}}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.True(t, s.HasTurret())
				assert.Nil(t, s.EstimatedTarget)
				assert.NotNil(t, s.MeasuredTarget)
			},
		},
		{
			name:  "half populated point",
			input: `{"turret_angle": 0, "projectile": {"x": 3}}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Nil(t, s.Projectile)
			},
		},
		{
			name:  "non numeric coordinate",
			input: `{"turret_angle": 0, "intercept_point": {"x": "a", "y": 1}}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Nil(t, s.InterceptPoint)
			},
		},
		{
			name:  "explosion frame out of range",
			input: `{"explosion": {"x": 3, "y": 4, "frame": 1e300}}`,
			check: func(t *testing.T, s *Snapshot) {
				require.NotNil(t, s.Explosion)
				assert.Equal(t, MaxExplosionFrame, s.Explosion.Frame)
			},
		},
		{
			name:  "negative explosion frame",
			input: `{"explosion": {"x": 3, "y": 4, "frame": -7}}`,
			check: func(t *testing.T, s *Snapshot) {
				require.NotNil(t, s.Explosion)
				assert.Zero(t, s.Explosion.Frame)
			},
		},
		{
			name:  "explosion without frame",
			input: `{"explosion": {"x": 3, "y": 4}}`,
			check: func(t *testing.T, s *Snapshot) {
				assert.Nil(t, s.Explosion)
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s, err := Decode([]byte(tc.input))
			require.NoError(t, err)
			tc.check(t, s)
		})
	}
}

func TestDecode_NotAnObject(t *testing.T) {
	_, err := Decode([]byte(`[1, 2, 3]`))
	assert.Error(t, err)
}

func TestSnapshot_MarshalKeepsWireKeys(t *testing.T) {
	s, err := Decode([]byte(`{"turret_angle": 45, "estimated_target": {"x": 1, "y": 2}, "threat_level": "MEDIUM", "threat_color": "orange"}`))
	require.NoError(t, err)

	data, err := json.Marshal(s)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Contains(t, raw, "turret_angle")
	assert.Contains(t, raw, "estimated_target")
	assert.NotContains(t, raw, "projectile")
	assert.Equal(t, "orange", raw["threat_color"])
}
