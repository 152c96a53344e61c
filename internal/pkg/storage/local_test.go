package storage

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/luokaiyi/go-cloudvault/internal/config"
	"github.com/luokaiyi/go-cloudvault/internal/models"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/auth"
	"github.com/luokaiyi/go-cloudvault/internal/pkg/xerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRange(t *testing.T) {
	const size = 1000

	tests := []struct {
		name       string
		header     string
		wantStart  int64
		wantLength int64
		wantOK     bool
	}{
		{"无 Range 头发整文件", "", 0, 1000, true},
		{"普通区间", "bytes=0-499", 0, 500, true},
		{"中间区间", "bytes=500-999", 500, 500, true},
		{"开区间", "bytes=200-", 200, 800, true},
		{"后缀区间", "bytes=-100", 900, 100, true},
		{"后缀超过文件", "bytes=-2000", 0, 1000, true},
		{"结束越界钳到末尾", "bytes=900-5000", 900, 100, true},
		{"多段退回整文件", "bytes=0-1,5-6", 0, 1000, true},
		{"起点越界", "bytes=1000-", 0, 0, false},
		{"起点为负", "bytes=-0", 0, 0, false},
		{"单位不对", "lines=0-5", 0, 0, false},
		{"乱序区间", "bytes=500-100", 0, 0, false},
		{"非数字", "bytes=a-b", 0, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, length, ok := parseRange(tt.header, size)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantStart, start)
				assert.Equal(t, tt.wantLength, length)
			}
		})
	}
}

func testDeps(t *testing.T) Deps {
	t.Helper()
	base := t.TempDir()
	return Deps{
		Config: &config.Config{
			Server: config.ServerConfig{BaseURL: "https://pan.example.com"},
			Local: config.LocalConfig{
				BasePath: base,
				TempPath: filepath.Join(base, "chunks"),
			},
			Thumb: config.ThumbConfig{Width: 90, Height: 39, Suffix: "_thumb"},
		},
		Auth: auth.New("unit-test-secret"),
	}
}

func TestLocalAdapterPutGetDelete(t *testing.T) {
	deps := testDeps(t)
	a := NewLocalAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)
	ctx := context.Background()

	content := []byte("hello cloudvault")
	require.NoError(t, a.Put(ctx, "uploads/1/a.txt", bytes.NewReader(content), int64(len(content))))

	rc, err := a.Get(ctx, "uploads/1/a.txt")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(deps.Config.Local.BasePath, "uploads/1/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
	require.NoError(t, rc.Close())

	failed, err := a.Delete(ctx, []string{"uploads/1/a.txt", "uploads/1/missing.txt"})
	require.NoError(t, err)
	assert.Empty(t, failed) // 不存在的对象不算删除失败

	_, err = a.Get(ctx, "uploads/1/a.txt")
	assert.ErrorIs(t, err, xerr.ErrFileNotFound)
}

func TestLocalAdapterSource(t *testing.T) {
	deps := testDeps(t)
	a := NewLocalAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)
	ctx := context.Background()

	content := []byte("data")
	require.NoError(t, a.Put(ctx, "uploads/1/a.txt", bytes.NewReader(content), int64(len(content))))

	src, err := a.Source(ctx, &SourceRequest{ObjName: "uploads/1/a.txt", Speed: 1024})
	require.NoError(t, err)
	assert.NotEmpty(t, src.LocalPath)
	assert.Equal(t, int64(1024), src.Speed)

	_, err = a.Source(ctx, &SourceRequest{ObjName: "uploads/1/missing.txt"})
	assert.ErrorIs(t, err, xerr.ErrFileNotFound)
}

func TestLocalAdapterSignTemporaryURL(t *testing.T) {
	deps := testDeps(t)
	a := NewLocalAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)

	rawURL, err := a.SignTemporaryURL("uploads/1/a.txt", "报告.pdf", 0, true)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, rawURL, nil)
	assert.NoError(t, auth.CheckURI(deps.Auth, req.URL))
	assert.Equal(t, "uploads/1/a.txt", req.URL.Query().Get("path"))
	assert.Equal(t, "报告.pdf", req.URL.Query().Get("name"))
	assert.Equal(t, "1", req.URL.Query().Get("download"))
}

func TestLocalAdapterServeContentRange(t *testing.T) {
	deps := testDeps(t)
	a := NewLocalAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)
	ctx := context.Background()

	content := []byte("0123456789")
	require.NoError(t, a.Put(ctx, "uploads/1/a.bin", bytes.NewReader(content), int64(len(content))))
	src, err := a.Source(ctx, &SourceRequest{ObjName: "uploads/1/a.bin", Speed: 1 << 20})
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/api/v1/file/content", nil)
	r.Header.Set("Range", "bytes=2-5")
	w := httptest.NewRecorder()
	require.NoError(t, a.ServeContent(w, r, src, "a.bin", false))

	assert.Equal(t, http.StatusPartialContent, w.Code)
	assert.Equal(t, "2345", w.Body.String())
	assert.Equal(t, "bytes 2-5/10", w.Header().Get("Content-Range"))
}

func TestLocalAdapterServeContentDownloadHeader(t *testing.T) {
	deps := testDeps(t)
	a := NewLocalAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)
	ctx := context.Background()

	content := []byte("x")
	require.NoError(t, a.Put(ctx, "uploads/1/a.txt", bytes.NewReader(content), 1))
	src, err := a.Source(ctx, &SourceRequest{ObjName: "uploads/1/a.txt"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/file/content", nil)
	require.NoError(t, a.ServeContent(w, r, src, "a.txt", true))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
}

func TestLocalAdapterSendFileDelegation(t *testing.T) {
	deps := testDeps(t)
	deps.Config.Local.SendFile = true
	deps.Config.Local.SendFileHeader = "X-Accel-Redirect"
	a := NewLocalAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)
	ctx := context.Background()

	require.NoError(t, a.Put(ctx, "uploads/1/a.txt", bytes.NewReader([]byte("x")), 1))
	src, err := a.Source(ctx, &SourceRequest{ObjName: "uploads/1/a.txt"})
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/api/v1/file/content", nil)
	require.NoError(t, a.ServeContent(w, r, src, "a.txt", false))

	// 应用只写代理头，不发送文件内容
	assert.Equal(t, "/internal/uploads/1/a.txt", w.Header().Get("X-Accel-Redirect"))
	assert.Empty(t, w.Body.String())
}

func TestNewAdapterDispatch(t *testing.T) {
	deps := testDeps(t)

	local, err := NewAdapter(&models.Policy{Type: models.PolicyTypeLocal}, deps)
	require.NoError(t, err)
	assert.IsType(t, &LocalAdapter{}, local)

	remote, err := NewAdapter(&models.Policy{Type: models.PolicyTypeRemote, Server: "https://node.example.com", SecretKey: "s"}, deps)
	require.NoError(t, err)
	assert.IsType(t, &RemoteAdapter{}, remote)

	_, err = NewAdapter(&models.Policy{Type: "ftp"}, deps)
	assert.ErrorIs(t, err, xerr.ErrPolicyNotFound)
}
