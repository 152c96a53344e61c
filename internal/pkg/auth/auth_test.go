package auth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMACAuth_SignAndCheck(t *testing.T) {
	a := New("test-secret")

	sign := a.Sign("hello", 0)
	assert.NoError(t, a.Check("hello", sign))
}

func TestHMACAuth_Check(t *testing.T) {
	a := New("test-secret")
	future := time.Now().Add(time.Hour).Unix()

	tests := []struct {
		name    string
		content string
		sign    string
		wantErr error
	}{
		{
			name:    "内容被篡改",
			content: "tampered",
			sign:    a.Sign("original", future),
			wantErr: xerr.ErrUntrusted,
		},
		{
			name:    "签名已过期",
			content: "hello",
			sign:    a.Sign("hello", time.Now().Add(-time.Minute).Unix()),
			wantErr: xerr.ErrTokenInvalid,
		},
		{
			name:    "格式非法",
			content: "hello",
			sign:    "not-a-valid-sign",
			wantErr: xerr.ErrUntrusted,
		},
		{
			name:    "空签名",
			content: "hello",
			sign:    "",
			wantErr: xerr.ErrUntrusted,
		},
		{
			name:    "密钥不同",
			content: "hello",
			sign:    New("other-secret").Sign("hello", future),
			wantErr: xerr.ErrUntrusted,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := a.Check(tt.content, tt.sign)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestHMACAuth_ZeroExpiresNeverExpires(t *testing.T) {
	a := New("test-secret")
	sign := a.Sign("content", 0)
	assert.True(t, strings.HasSuffix(sign, ":0"))
	assert.NoError(t, a.Check("content", sign))
}

func TestSignURIAndCheckURI(t *testing.T) {
	a := New("test-secret")

	signed, err := SignURI(a, "https://example.com/api/v1/file/content?path=uploads%2F1%2Fa.txt&name=a.txt", time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, signed.Query().Get("sign"))

	assert.NoError(t, CheckURI(a, signed))
}

func TestCheckURI_RejectsTamperedQuery(t *testing.T) {
	a := New("test-secret")

	signed, err := SignURI(a, "https://example.com/api/v1/file/content?path=uploads%2F1%2Fa.txt", time.Hour)
	require.NoError(t, err)

	// 改 path 参数后签名必须失效
	q := signed.Query()
	q.Set("path", "uploads/2/b.txt")
	tampered := *signed
	tampered.RawQuery = q.Encode()
	assert.ErrorIs(t, CheckURI(a, &tampered), xerr.ErrUntrusted)
}

func TestCheckURI_MissingSign(t *testing.T) {
	a := New("test-secret")
	u, err := url.Parse("https://example.com/api/v1/file/content?path=a.txt")
	require.NoError(t, err)
	assert.ErrorIs(t, CheckURI(a, u), xerr.ErrUntrusted)
}

func TestSignURI_Expired(t *testing.T) {
	a := New("test-secret")

	signed, err := SignURI(a, "https://example.com/api/v1/file/content?path=a.txt", -time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, CheckURI(a, signed), xerr.ErrTokenInvalid)
}

func TestSignAndCheckRequestBody(t *testing.T) {
	a := New("test-secret")
	body := []byte(`{"obj_name":"uploads/1/a.bin","size":42}`)

	sign := SignRequestBody(a, "POST", "/api/v1/callback/remote/abc", body, time.Hour)
	assert.NoError(t, CheckRequestBody(a, "POST", "/api/v1/callback/remote/abc", body, sign))

	// 任一要素变化都不放行
	assert.Error(t, CheckRequestBody(a, "PUT", "/api/v1/callback/remote/abc", body, sign))
	assert.Error(t, CheckRequestBody(a, "POST", "/api/v1/callback/remote/xyz", body, sign))
	assert.Error(t, CheckRequestBody(a, "POST", "/api/v1/callback/remote/abc", []byte(`{}`), sign))
}
