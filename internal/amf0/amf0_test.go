package amf0

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v *Value) *Value {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, Encode(v, &buf))
	require.Equal(t, Size(v), buf.Len())

	r := NewReader(buf.Bytes())
	got, err := r.ReadValue()
	require.NoError(t, err)
	require.True(t, r.Done())
	return got
}

func TestRoundTripNumber(t *testing.T) {
	got := roundTrip(t, Number(3.5))
	require.Equal(t, TypeNumber, got.Type)
	require.Equal(t, 3.5, got.Num)
}

func TestRoundTripBoolean(t *testing.T) {
	got := roundTrip(t, Boolean(true))
	require.True(t, got.Bool)
	got = roundTrip(t, Boolean(false))
	require.False(t, got.Bool)
}

func TestRoundTripString(t *testing.T) {
	got := roundTrip(t, String("live"))
	require.Equal(t, "live", got.Str)
}

func TestRoundTripNullUndefined(t *testing.T) {
	require.Equal(t, TypeNull, roundTrip(t, Null()).Type)
	require.Equal(t, TypeUndefined, roundTrip(t, Undefined()).Type)
}

func TestRoundTripObjectPreservesOrder(t *testing.T) {
	v := Object(
		Pair{Key: "width", Value: Number(640)},
		Pair{Key: "height", Value: Number(360)},
		Pair{Key: "videocodecid", Value: String("avc1")},
	)
	got := roundTrip(t, v)
	require.Equal(t, TypeObject, got.Type)
	require.Len(t, got.Object, 3)
	require.Equal(t, "width", got.Object[0].Key)
	require.Equal(t, "height", got.Object[1].Key)
	require.Equal(t, "videocodecid", got.Object[2].Key)

	w, ok := got.Get("width")
	require.True(t, ok)
	require.Equal(t, float64(640), w.AsNumber())
}

func TestRoundTripECMAArray(t *testing.T) {
	v := ECMAArray(
		Pair{Key: "duration", Value: Number(0)},
		Pair{Key: "fps", Value: Number(30)},
	)
	got := roundTrip(t, v)
	require.Equal(t, TypeECMAArray, got.Type)
	require.Len(t, got.Object, 2)
}

func TestRoundTripStrictArray(t *testing.T) {
	v := StrictArray(Number(1), String("x"), Boolean(true))
	got := roundTrip(t, v)
	require.Equal(t, TypeStrictArray, got.Type)
	require.Len(t, got.Array, 3)
}

func TestRoundTripLongString(t *testing.T) {
	big := bytes.Repeat([]byte("a"), 70000)
	v := &Value{Type: TypeLongString, Str: string(big)}
	got := roundTrip(t, v)
	require.Equal(t, string(big), got.Str)
}

func TestSetUpsertsInPlace(t *testing.T) {
	v := Object(Pair{Key: "a", Value: Number(1)}, Pair{Key: "b", Value: Number(2)})
	v.Set("a", Number(9))
	require.Len(t, v.Object, 2)
	got, _ := v.Get("a")
	require.Equal(t, float64(9), got.AsNumber())
}

func TestMultipleTopLevelValues(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Encode(String("onStatus"), &buf))
	require.NoError(t, Encode(Number(0), &buf))
	require.NoError(t, Encode(Null(), &buf))

	r := NewReader(buf.Bytes())
	v1, err := r.ReadValue()
	require.NoError(t, err)
	require.Equal(t, "onStatus", v1.AsString())

	v2, err := r.ReadValue()
	require.NoError(t, err)
	require.Equal(t, float64(0), v2.AsNumber())

	v3, err := r.ReadValue()
	require.NoError(t, err)
	require.Equal(t, TypeNull, v3.Type)
	require.True(t, r.Done())
}

func TestUnsupportedDate(t *testing.T) {
	buf := []byte{byte(TypeDate), 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	r := NewReader(buf)
	_, err := r.ReadValue()
	require.Error(t, err)
}
