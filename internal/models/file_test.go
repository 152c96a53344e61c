package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		wantDir  string
		wantName string
	}{
		{"根目录", "/", "/", ""},
		{"空串视为根", "", "/", ""},
		{"一级文件", "/a.txt", "/", "a.txt"},
		{"多级文件", "/docs/work/a.txt", "/docs/work", "a.txt"},
		{"尾部斜杠", "/docs/work/", "/docs", "work"},
		{"缺少前导斜杠", "docs/a.txt", "/docs", "a.txt"},
		{"路径含点段", "/docs/../a.txt", "/", "a.txt"},
		{"重复斜杠", "/docs//a.txt", "/docs", "a.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, name := SplitPath(tt.path)
			assert.Equal(t, tt.wantDir, dir)
			assert.Equal(t, tt.wantName, name)
		})
	}
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "/a.txt", JoinPath("/", "a.txt"))
	assert.Equal(t, "/docs/a.txt", JoinPath("/docs", "a.txt"))
	assert.Equal(t, "/docs/sub", JoinPath("/docs", "sub"))
}

func TestExt(t *testing.T) {
	assert.Equal(t, "txt", Ext("a.txt"))
	assert.Equal(t, "jpg", Ext("PHOTO.JPG"))
	assert.Equal(t, "gz", Ext("archive.tar.gz"))
	assert.Equal(t, "", Ext("Makefile"))
	assert.Equal(t, "", Ext("noext."))
}

func TestFileDimensions(t *testing.T) {
	tests := []struct {
		name    string
		picInfo string
		want    *ImageDimensions
	}{
		{"正常尺寸", "1600,900", &ImageDimensions{Width: 1600, Height: 900}},
		{"未探测", "", nil},
		{"非图片", "0,0", nil},
		{"缺少高度", "1600", nil},
		{"非数字", "w,h", nil},
		{"负值", "-1,900", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := File{PicInfo: tt.picInfo}
			assert.Equal(t, tt.want, f.Dimensions())
		})
	}
}

func TestImageDimensionsString(t *testing.T) {
	d := ImageDimensions{Width: 90, Height: 39}
	assert.Equal(t, "90,39", d.String())
}

func TestFileLogicalPath(t *testing.T) {
	f := File{Dir: "/docs", Name: "a.txt"}
	assert.Equal(t, "/docs/a.txt", f.LogicalPath())

	root := File{Dir: "/", Name: "a.txt"}
	assert.Equal(t, "/a.txt", root.LogicalPath())
}
