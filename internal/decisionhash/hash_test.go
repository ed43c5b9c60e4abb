package decisionhash

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reason(c uint16) *uint16 { return &c }

func fixture() Input {
	var policy [32]byte
	for i := range policy {
		policy[i] = byte(i)
	}
	return Input{
		PolicyHash:  policy,
		SessionID:   "session-1",
		CandidateID: "cand-42",
		ValueScore:  0.5,
		Counters: Counters{
			PatchCountShadow:   1,
			BudgetRemainingRaw: 2,
			Attempts:           3,
			Accepted:           4,
			HardBlocks:         5,
			SoftPenalties:      6,
		},
		Throttle: &Throttle{
			TokenAvailable: true,
			Novelty:        0.25,
			WindowCount:    7,
			SpamScore:      0.1,
			QualityScale:   0.75,
		},
		Degradation:   DegradationDamping,
		ReasonCode:    reason(6),
		SchemaVersion: SchemaVersion,
	}
}

const (
	fixtureEncoding = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f" +
		"0000000973657373696f6e2d31" +
		"0000000763616e642d3432" +
		"00000008302e353030303030" +
		"0000000000000001000000000000000200000000000000030000000000000004" +
		"00000000000000050000000000000006" +
		"01" + "01" + "00000008302e323530303030" + "00000007" +
		"00000008302e313030303030" + "00000008302e373530303030" +
		"01" + "01" + "0006" + "0001"
	fixtureHash = "33f2f2e37a6c1faa9d4a62550ffb05f0a4fbde663a707008997e4b460974f09d"
)

func TestDomainTagLength(t *testing.T) {
	t.Parallel()
	assert.Len(t, DomainTag, 26)
	assert.Equal(t, byte(0), DomainTag[len(DomainTag)-1])
	assert.True(t, strings.HasPrefix(DomainTag, "EVIDENCE_DECISION_HASH_V1"))
}

func TestEncode_Golden(t *testing.T) {
	t.Parallel()
	data, err := Encode(fixture())
	require.NoError(t, err)
	assert.Equal(t, fixtureEncoding, hex.EncodeToString(data))

	h, err := Compute(fixture())
	require.NoError(t, err)
	assert.Equal(t, fixtureHash, h.String())
}

func TestCompute_Deterministic(t *testing.T) {
	t.Parallel()
	a, err := Compute(fixture())
	require.NoError(t, err)
	b, err := Compute(fixture())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompute_EveryFieldChangesHash(t *testing.T) {
	t.Parallel()
	base, err := Compute(fixture())
	require.NoError(t, err)

	mutations := map[string]func(*Input){
		"policy bit":        func(in *Input) { in.PolicyHash[31] ^= 1 },
		"session":           func(in *Input) { in.SessionID = "session-2" },
		"candidate":         func(in *Input) { in.CandidateID = "cand-43" },
		"value score":       func(in *Input) { in.ValueScore = 0.500001 },
		"patch count":       func(in *Input) { in.Counters.PatchCountShadow ^= 1 << 40 },
		"budget":            func(in *Input) { in.Counters.BudgetRemainingRaw-- },
		"attempts":          func(in *Input) { in.Counters.Attempts++ },
		"accepted":          func(in *Input) { in.Counters.Accepted++ },
		"hard blocks":       func(in *Input) { in.Counters.HardBlocks++ },
		"soft penalties":    func(in *Input) { in.Counters.SoftPenalties++ },
		"throttle absent":   func(in *Input) { in.Throttle = nil },
		"token":             func(in *Input) { in.Throttle.TokenAvailable = false },
		"novelty":           func(in *Input) { in.Throttle.Novelty = 0.26 },
		"window":            func(in *Input) { in.Throttle.WindowCount = 6 },
		"spam":              func(in *Input) { in.Throttle.SpamScore = 0.2 },
		"quality scale":     func(in *Input) { in.Throttle.QualityScale = 0.5 },
		"degradation":       func(in *Input) { in.Degradation = DegradationSaturated },
		"reason":            func(in *Input) { in.ReasonCode = reason(7) },
		"schema":            func(in *Input) { in.SchemaVersion = 2 },
		"moved string byte": func(in *Input) { in.SessionID, in.CandidateID = "session-", "1cand-42" },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			in := fixture()
			thr := *in.Throttle
			in.Throttle = &thr
			mutate(&in)
			h, err := Compute(in)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestSum_SingleBitFlip(t *testing.T) {
	t.Parallel()
	data, err := Encode(fixture())
	require.NoError(t, err)
	base := Sum(data)
	for i := range data {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), data...)
			flipped[i] ^= 1 << bit
			require.NotEqual(t, base, Sum(flipped), "byte %d bit %d", i, bit)
		}
	}
}

func TestEncode_FloatCanonicalisation(t *testing.T) {
	t.Parallel()
	a := fixture()
	b := fixture()
	a.ValueScore = 0
	b.ValueScore = math.Copysign(0, -1)
	ha, err := Compute(a)
	require.NoError(t, err)
	hb, err := Compute(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb, "negative zero encodes as zero")

	// Differences below the sixth decimal are not committed to.
	b.ValueScore = 0.0000004
	hb, err = Compute(b)
	require.NoError(t, err)
	assert.Equal(t, ha, hb)
}

func TestEncode_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Input)
		field  string
		want   error
	}{
		{"nan score", func(in *Input) { in.ValueScore = math.NaN() }, "value_score", ErrNonFinite},
		{"inf novelty", func(in *Input) { in.Throttle.Novelty = math.Inf(1) }, "throttle.novelty", ErrNonFinite},
		{"huge score", func(in *Input) { in.ValueScore = 1e20 }, "value_score", ErrOversized},
		{"long session", func(in *Input) { in.SessionID = strings.Repeat("x", MaxStringLen+1) }, "session_id", ErrOversized},
		{"normal with reason", func(in *Input) { in.Degradation = DegradationNormal }, "reason_code", ErrReasonForbidden},
		{"degraded without reason", func(in *Input) { in.ReasonCode = nil }, "reason_code", ErrReasonRequired},
		{"unknown level", func(in *Input) { in.Degradation = 9 }, "degradation", ErrUnknownDegradation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			in := fixture()
			thr := *in.Throttle
			in.Throttle = &thr
			tt.mutate(&in)
			_, err := Compute(in)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			var encErr *EncodeError
			require.ErrorAs(t, err, &encErr)
			assert.Equal(t, tt.field, encErr.Field)
		})
	}

	in := fixture()
	in.Degradation = DegradationNormal
	in.ReasonCode = nil
	_, err := Compute(in)
	assert.NoError(t, err)
}

func TestParseHash(t *testing.T) {
	t.Parallel()
	h, err := ParseHash(fixtureHash)
	require.NoError(t, err)
	assert.Equal(t, fixtureHash, h.String())
	assert.False(t, h.IsZero())
	assert.True(t, Hash{}.IsZero())

	for _, bad := range []string{"", "abc", strings.Repeat("g", 64), fixtureHash + "00"} {
		_, err := ParseHash(bad)
		assert.ErrorIs(t, err, ErrMalformedHash, "input %q", bad)
	}
}

func TestHash_JSON(t *testing.T) {
	t.Parallel()
	h, err := ParseHash(fixtureHash)
	require.NoError(t, err)
	data, err := json.Marshal(struct{ H Hash }{h})
	require.NoError(t, err)
	assert.Equal(t, `{"H":"`+fixtureHash+`"}`, string(data))

	var out struct{ H Hash }
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, h, out.H)
	assert.Error(t, json.Unmarshal([]byte(`{"H":"zz"}`), &out))
}

func TestDegradationString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "NORMAL", DegradationNormal.String())
	assert.Equal(t, "SATURATED", DegradationSaturated.String())
	assert.Equal(t, "Degradation(7)", Degradation(7).String())
}
