package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"voxelcore/pkg/geometry"
	"voxelcore/pkg/property"
)

func sampleTree(t *testing.T) *property.Tree {
	t.Helper()
	tr := property.New(zaptest.NewLogger(t))
	require.NoError(t, property.Set(tr, "acquisition/number", int64(3)))
	require.NoError(t, property.Set(tr, "acquisition/time", time.Date(2024, 5, 1, 12, 30, 0, 250_000_000, time.UTC)))
	require.NoError(t, property.Set(tr, "geometry/voxelSize", geometry.NewVec4(1, 1, 2.5)))
	require.NoError(t, property.Set(tr, "geometry/matrix", geometry.IVec4{1, 2, 3, 4}))
	require.NoError(t, property.Set(tr, "echoTimes", 1.5, 3.0, 4.5))
	require.NoError(t, property.Set(tr, "patient/name", "phantom"))
	require.NoError(t, property.Set(tr, "flags/localizer", false))
	require.NoError(t, tr.AddNeeded(property.ParsePath("geometry/indexOrigin")))
	require.NoError(t, tr.AddNeeded(property.ParsePath("geometry/voxelSize")))
	_, err := tr.FetchBranch(property.ParsePath("empty"))
	require.NoError(t, err)
	return tr
}

func dump(t *testing.T, tr *property.Tree) string {
	t.Helper()
	var b strings.Builder
	require.NoError(t, tr.Print(&b, true))
	return b.String()
}

func TestRoundtrip(t *testing.T) {
	original := sampleTree(t)

	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	decoded, err := Unmarshal(data, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}

	if diff := cmp.Diff(dump(t, original), dump(t, decoded)); diff != "" {
		t.Errorf("roundtrip mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, original.Difference(decoded))
	require.Equal(t, original.Missing().Strings(), decoded.Missing().Strings())

	v, ok := decoded.QueryValue(property.ParsePath("geometry/voxelSize"))
	require.True(t, ok)
	require.True(t, v.IsNeeded())
	_, ok = decoded.HasBranch(property.ParsePath("empty"))
	require.True(t, ok)
}

func TestMarshalDeterministic(t *testing.T) {
	first, err := Marshal(sampleTree(t))
	require.NoError(t, err)
	second, err := Marshal(sampleTree(t).Clone())
	require.NoError(t, err)
	if !bytes.Equal(first, second) {
		t.Error("equal trees produced different bytes")
	}
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteTree(&buf, sampleTree(t)))
	require.NoError(t, WriteTree(&buf, property.New(nil)))

	first, err := ReadTree(&buf, nil)
	require.NoError(t, err)
	require.Equal(t, "phantom", property.GetOr(first, "patient/name", ""))

	second, err := ReadTree(&buf, nil)
	require.NoError(t, err)
	require.True(t, second.IsEmpty())
}

func TestDecodeErrors(t *testing.T) {
	_, err := Unmarshal([]byte{0xff, 0x00}, nil)
	require.Error(t, err)

	data, err := encMode.Marshal(snapshot{Version: Version + 1})
	require.NoError(t, err)
	_, err = Unmarshal(data, nil)
	require.ErrorIs(t, err, ErrVersion)

	one, err := encMode.Marshal(1)
	require.NoError(t, err)
	data, err = encMode.Marshal(snapshot{
		Version: Version,
		Entries: []entry{{Key: "x", Type: "quaternion", Elems: []cbor.RawMessage{one}}},
	})
	require.NoError(t, err)
	_, err = Unmarshal(data, nil)
	require.ErrorIs(t, err, ErrUnknownType)

	// a value and a branch under the same key
	data, err = encMode.Marshal(snapshot{
		Version: Version,
		Entries: []entry{
			{Key: "a", Type: "int", Elems: []cbor.RawMessage{one}},
			{Key: "A", Branch: true, Children: []entry{{Key: "b"}}},
		},
	})
	require.NoError(t, err)
	_, err = Unmarshal(data, nil)
	require.ErrorIs(t, err, property.ErrNotBranch)
}

func TestDiagnose(t *testing.T) {
	data, err := Marshal(sampleTree(t))
	require.NoError(t, err)
	diag, err := Diagnose(data)
	require.NoError(t, err)
	require.Contains(t, diag, `"phantom"`)
}
