package chains

import (
	"context"
	"io/ioutil"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestLookup(t *testing.T) {
	c, err := Lookup(1)
	require.NoError(t, err)
	assert.Equal(t, "eth", c.Name)
	assert.Equal(t, 18, c.Decimals)

	_, err = Lookup(-1)
	assert.Error(t, err)

	for _, c := range Array {
		assert.Equal(t, c, Mapping[c.ID])
		assert.Equal(t, c.IDHex, "0x"+big.NewInt(int64(c.ID)).Text(16), c.Name)
	}
}

func TestFormatUnits(t *testing.T) {
	oneEther, _ := new(big.Int).SetString("1000000000000000000", 10)
	cases := []struct {
		value *big.Int
		want  string
	}{
		{oneEther, "1.0"},
		{big.NewInt(0), "0.0"},
		{nil, "0.0"},
		{big.NewInt(10000000000000000), "0.01"},
		{new(big.Int).Mul(oneEther, big.NewInt(12)), "12.0"},
		{new(big.Int).Add(oneEther, big.NewInt(1)), "1.000000000000000001"},
		{big.NewInt(-1500000000000000000), "-1.5"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, FormatUnits(c.value, 18))
	}
	assert.Equal(t, "1.23", FormatUnits(big.NewInt(123), 2))
	assert.Equal(t, "7.0", FormatUnits(big.NewInt(7), 0))
}

func TestParseUnits(t *testing.T) {
	v, err := ParseUnits("0.01", 18)
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", v.String())

	v, err = ParseUnits("1", 18)
	require.NoError(t, err)
	assert.Equal(t, "1.0", FormatUnits(v, 18))

	v, err = ParseUnits(".5", 18)
	require.NoError(t, err)
	assert.Equal(t, "0.5", FormatUnits(v, 18))

	_, err = ParseUnits("1.2.3", 18)
	assert.Error(t, err)
	_, err = ParseUnits("0.001", 2)
	assert.Error(t, err)
	_, err = ParseUnits("abc", 18)
	assert.Error(t, err)
}

func TestParseWei(t *testing.T) {
	v, err := ParseWei("0x2386F26FC10000")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", v.String())

	v, err = ParseWei("10000000000000000")
	require.NoError(t, err)
	assert.Equal(t, "10000000000000000", v.String())

	_, err = ParseWei("0xzz")
	assert.Error(t, err)
}

type fakeRequester struct {
	method string
	params []interface{}
	result string
	err    error
}

func (f *fakeRequester) Request(_ context.Context, method string, params ...interface{}) (string, error) {
	f.method, f.params = method, params
	return f.result, f.err
}

func TestProviderBalanceReader(t *testing.T) {
	p := &fakeRequester{result: `"0xde0b6b3a7640000"`}
	account := common.HexToAddress("0x3E1568D4ab414e776BAE3aef5c8Bd7Bf29E30D56")

	reader, err := NewBalanceReader(context.Background(), "", p)
	require.NoError(t, err)
	balance, err := reader.BalanceAt(context.Background(), account)
	require.NoError(t, err)
	assert.Equal(t, "1.0", FormatUnits(balance, 18))
	assert.Equal(t, "eth_getBalance", p.method)
	assert.Equal(t, []interface{}{account.Hex(), "latest"}, p.params)

	p.result = `"not-a-number"`
	_, err = reader.BalanceAt(context.Background(), account)
	assert.Error(t, err)

	_, err = NewBalanceReader(context.Background(), "", nil)
	assert.Error(t, err)
}

func TestNodeBalanceReader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := ioutil.ReadAll(r.Body)
		req := gjson.ParseBytes(body)
		assert.Equal(t, "eth_getBalance", req.Get("method").String())
		assert.Equal(t, "latest", req.Get("params.1").String())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + req.Get("id").Raw + `,"result":"0x1bc16d674ec80000"}`))
	}))
	defer srv.Close()

	reader, err := NewBalanceReader(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	defer reader.(*nodeReader).Close()

	balance, err := reader.BalanceAt(context.Background(), common.HexToAddress("0x01"))
	require.NoError(t, err)
	assert.Equal(t, "2.0", FormatUnits(balance, 18))
}
