package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyDecodeOptions(t *testing.T) {
	t.Run("空列反序列化为空列表", func(t *testing.T) {
		p := Policy{}
		require.NoError(t, p.DecodeOptions())
		assert.NotNil(t, p.OptionsSerialized.FileType)
		assert.Empty(t, p.OptionsSerialized.FileType)
	})

	t.Run("正常选项", func(t *testing.T) {
		p := Policy{Options: `{"file_type":["jpg","png"],"chunk_size":4194304,"od_redirect":"https://example.com/cb"}`}
		require.NoError(t, p.DecodeOptions())
		assert.Equal(t, []string{"jpg", "png"}, p.OptionsSerialized.FileType)
		assert.Equal(t, uint64(4194304), p.OptionsSerialized.ChunkSize)
		assert.Equal(t, "https://example.com/cb", p.OptionsSerialized.OdRedirect)
	})

	t.Run("非法 JSON 返回错误", func(t *testing.T) {
		p := Policy{Options: "{not-json"}
		assert.Error(t, p.DecodeOptions())
	})
}

func TestPolicyIsExtensionAllowed(t *testing.T) {
	unrestricted := Policy{OptionsSerialized: PolicyOption{}}
	assert.True(t, unrestricted.IsExtensionAllowed("a.exe"))

	restricted := Policy{OptionsSerialized: PolicyOption{FileType: []string{"jpg", "png"}}}
	assert.True(t, restricted.IsExtensionAllowed("photo.jpg"))
	assert.True(t, restricted.IsExtensionAllowed("PHOTO.PNG")) // 扩展名比较不区分大小写
	assert.False(t, restricted.IsExtensionAllowed("a.exe"))
	assert.False(t, restricted.IsExtensionAllowed("noext"))
}

func TestPolicyIsSizeAllowed(t *testing.T) {
	unlimited := Policy{MaxSize: 0}
	assert.True(t, unlimited.IsSizeAllowed(1<<40))

	limited := Policy{MaxSize: 100}
	assert.True(t, limited.IsSizeAllowed(100))
	assert.False(t, limited.IsSizeAllowed(101))
}

func TestPolicyTypePredicates(t *testing.T) {
	tests := []struct {
		typ          string
		direct       bool
		sessionBased bool
		thumbNative  bool
	}{
		{PolicyTypeLocal, false, false, false},
		{PolicyTypeS3, false, false, false},
		{PolicyTypeOSS, true, false, true},
		{PolicyTypeQiniu, true, false, true},
		{PolicyTypeUpyun, true, false, true},
		{PolicyTypeRemote, false, false, false},
		{PolicyTypeOneDrive, false, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			p := Policy{Type: tt.typ}
			assert.Equal(t, tt.direct, p.IsDirectlyUploaded())
			assert.Equal(t, tt.sessionBased, p.IsSessionBased())
			assert.Equal(t, tt.thumbNative, p.IsThumbNative())
		})
	}
}
