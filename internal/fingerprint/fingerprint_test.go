package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rivalwatch/internal/record"
)

// TestHashDeterministic ensures repeated hashing yields the same digest.
func TestHashDeterministic(t *testing.T) {
	t.Parallel()

	e := New()
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	require.Equal(t, want, string(e.Hash([]byte("hello world"))))
	require.Equal(t, e.Hash([]byte("hello world")), e.Hash([]byte("hello world")))
}

func TestFingerprintDeterministicAndHex(t *testing.T) {
	t.Parallel()

	e := New()
	rec := record.Pricing{Plans: []record.Plan{{Name: "Pro", Price: "$49", Features: []string{"SSO"}}}}
	fp1, canon1, err := e.Fingerprint(rec)
	require.NoError(t, err)
	fp2, canon2, err := e.Fingerprint(rec)
	require.NoError(t, err)

	require.Equal(t, fp1, fp2)
	require.Equal(t, canon1, canon2)
	require.Len(t, string(fp1), 64)
	require.Regexp(t, `^[0-9a-f]{64}$`, string(fp1))
	require.Equal(t, e.Hash(canon1), fp1)
}

func TestCanonicalizeSortsKeysRecursively(t *testing.T) {
	t.Parallel()

	a := map[string]any{"b": 1, "a": map[string]any{"z": "x", "y": []any{3, 1, 2}}}
	out, err := Canonicalize(a)
	require.NoError(t, err)
	require.Equal(t, `{"a":{"y":[3,1,2],"z":"x"},"b":1}`, string(out))
}

func TestCanonicalizeKeepsHTMLUnescaped(t *testing.T) {
	t.Parallel()

	out, err := Canonicalize(map[string]string{"name": "Tom & Jerry <Pro>"})
	require.NoError(t, err)
	require.Equal(t, `{"name":"Tom & Jerry <Pro>"}`, string(out))
}

func TestFingerprintIgnoresKeyOrderOfDecodedContent(t *testing.T) {
	t.Parallel()

	e := New()
	original := record.Features{Features: []record.Feature{{Name: "Audit log", Description: "Every change tracked."}}}
	fp, _, err := e.Fingerprint(original)
	require.NoError(t, err)

	// Same content serialized with a different key order.
	shuffled := []byte(`{"data":{"features":[{"description":"Every change tracked.","name":"Audit log"}]},"type":"features"}`)
	decoded, err := record.Decode(shuffled)
	require.NoError(t, err)
	fpDecoded, _, err := e.Fingerprint(decoded)
	require.NoError(t, err)
	require.Equal(t, fp, fpDecoded)

	other := record.Features{Features: []record.Feature{{Name: "Audit log", Description: "Every change tracked!"}}}
	fpOther, _, err := e.Fingerprint(other)
	require.NoError(t, err)
	require.NotEqual(t, fp, fpOther)
}

func TestFingerprintNilRecord(t *testing.T) {
	t.Parallel()

	_, _, err := New().Fingerprint(nil)
	require.Error(t, err)
}

func TestFingerprintDistinguishesPageTypes(t *testing.T) {
	t.Parallel()

	e := New()
	fpBlog, _, err := e.Fingerprint(record.Blog{})
	require.NoError(t, err)
	fpFeatures, _, err := e.Fingerprint(record.Features{})
	require.NoError(t, err)
	require.NotEqual(t, fpBlog, fpFeatures)
}
