package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLegalName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"普通文件名", "report.pdf", true},
		{"中文文件名", "年度报告.docx", true},
		{"空名", "", false},
		{"含斜杠", "a/b.txt", false},
		{"含反斜杠", `a\b.txt`, false},
		{"含冒号", "a:b", false},
		{"含星号", "a*b", false},
		{"含问号", "a?b", false},
		{"含引号", `a"b`, false},
		{"含尖括号", "a<b>", false},
		{"含竖线", "a|b", false},
		{"超长", strings.Repeat("a", 256), false},
		{"恰好255字节", strings.Repeat("a", 255), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsLegalName(tt.input))
		})
	}
}

func TestRandomString(t *testing.T) {
	s := RandomString(16)
	assert.Len(t, s, 16)
	for _, r := range s {
		assert.Contains(t, randomCharset, string(r))
	}
	// 两次生成撞车的概率可以忽略
	assert.NotEqual(t, RandomString(16), RandomString(16))
}

func TestReplaceMagicVars(t *testing.T) {
	got := ReplaceMagicVars("{uid}/{path}/{originname}", 42, "photo.jpg", "/albums/2026")
	assert.Equal(t, "42/albums/2026/photo.jpg", got)

	withExt := ReplaceMagicVars("file{ext}", 1, "archive.tar.gz", "/")
	assert.Equal(t, "file.gz", withExt)

	random := ReplaceMagicVars("{randomkey8}", 1, "a.txt", "/")
	assert.Len(t, random, 8)

	id := ReplaceMagicVars("{uuid}", 1, "a.txt", "/")
	assert.Len(t, id, 36)
}

func TestGenerateObjectName(t *testing.T) {
	t.Run("默认规则", func(t *testing.T) {
		objName := GenerateObjectName("", "", 7, "photo.jpg", "/albums")
		assert.True(t, strings.HasPrefix(objName, "uploads/7/"))
		assert.True(t, strings.HasSuffix(objName, ".jpg"))
	})

	t.Run("自定义规则", func(t *testing.T) {
		objName := GenerateObjectName("data/{uid}", "{originname}", 7, "photo.jpg", "/albums")
		assert.Equal(t, "data/7/photo.jpg", objName)
	})

	t.Run("目录规则展开为空", func(t *testing.T) {
		objName := GenerateObjectName("{path}", "{originname}", 7, "a.txt", "/")
		assert.Equal(t, "a.txt", objName)
	})
}
