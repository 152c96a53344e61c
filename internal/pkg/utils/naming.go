package utils

import (
	"fmt"
	"math/rand"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 逻辑名里禁止出现的字符
const illegalNameChars = `\/:*?"<>|`

const randomCharset = "abcdefghijklmnopqrstuvwxyz0123456789"

// IsLegalName 校验文件/目录的逻辑名：非空、不含非法字符、长度受限
func IsLegalName(name string) bool {
	if name == "" || len(name) > 255 {
		return false
	}
	if strings.ContainsAny(name, illegalNameChars) {
		return false
	}
	return true
}

// RandomString 生成指定长度的随机小写字母数字串
func RandomString(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = randomCharset[rand.Intn(len(randomCharset))]
	}
	return string(b)
}

// ReplaceMagicVars 展开命名规则模板中的魔法变量
// 支持 {randomkey8} {randomkey16} {uuid} {timestamp} {uid} {originname} {ext} {date} {datetime} {path}
func ReplaceMagicVars(rule string, uid uint64, originName, dir string) string {
	now := time.Now()
	replacer := strings.NewReplacer(
		"{randomkey8}", RandomString(8),
		"{randomkey16}", RandomString(16),
		"{uuid}", uuid.NewString(),
		"{timestamp}", fmt.Sprintf("%d", now.Unix()),
		"{uid}", fmt.Sprintf("%d", uid),
		"{originname}", originName,
		"{ext}", path.Ext(originName),
		"{date}", now.Format("20060102"),
		"{datetime}", now.Format("20060102150405"),
		"{path}", strings.Trim(dir, "/"),
	)
	return replacer.Replace(rule)
}

// GenerateObjectName 按策略的目录/文件命名规则生成物理对象名
// 规则为空时退回 uid 前缀目录加 uuid 文件名
func GenerateObjectName(dirRule, fileRule string, uid uint64, originName, dir string) string {
	if dirRule == "" {
		dirRule = "uploads/{uid}"
	}
	if fileRule == "" {
		fileRule = "{uuid}{ext}"
	}
	physicalDir := strings.Trim(ReplaceMagicVars(dirRule, uid, originName, dir), "/")
	physicalName := ReplaceMagicVars(fileRule, uid, originName, dir)
	if physicalDir == "" {
		return physicalName
	}
	return physicalDir + "/" + physicalName
}
