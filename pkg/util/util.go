// Package util 提供通用工具函数
package util

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// HashPassword 使用 bcrypt 哈希密码
// 参数:
//   - password: 明文密码
//
// 返回:
//   - string: 密码哈希值
//   - error: 哈希错误
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword 验证密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// HashToken 计算 Token 的 SHA256 哈希值
// 黑名单只保存哈希，不保存原始 Token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

const lowerAlnum = "abcdefghijklmnopqrstuvwxyz0123456789"

// GenerateRandomString 生成指定长度的随机字符串，只包含小写字母和数字
func GenerateRandomString(length int) string {
	result := make([]byte, length)
	for i := range result {
		n, _ := rand.Int(rand.Reader, big.NewInt(int64(len(lowerAlnum))))
		result[i] = lowerAlnum[n.Int64()]
	}
	return string(result)
}

// GenerateShareToken 生成对话分享令牌
// 格式: share_<毫秒时间戳>_<8位随机字符>
func GenerateShareToken(now time.Time) string {
	return fmt.Sprintf("share_%d_%s", now.UnixMilli(), GenerateRandomString(8))
}

// TruncateString 截断字符串到指定长度（按字符计算）
// 如果字符串超过指定长度，截断并添加 "..."
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

const redacted = "[REDACTED]"

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(key=)[^&\s"]+`),
	regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`),
	regexp.MustCompile(`(?i)(x-api-key:\s*)\S+`),
	regexp.MustCompile(`(sk-)[A-Za-z0-9_\-]{8,}`),
}

// RedactSecrets 去掉字符串中的密钥
// 先替换传入的已知密钥，再按常见格式（?key=、Bearer、sk-）兜底
// 长度小于 4 的值会被忽略
func RedactSecrets(s string, secrets ...string) string {
	for _, v := range secrets {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, redacted)
	}
	for _, re := range secretPatterns {
		s = re.ReplaceAllString(s, "${1}"+redacted)
	}
	return s
}

// StringPtr 返回字符串的指针
func StringPtr(s string) *string {
	return &s
}

// Float64Ptr 返回 float64 的指针
func Float64Ptr(f float64) *float64 {
	return &f
}

// BoolPtr 返回 bool 的指针
func BoolPtr(b bool) *bool {
	return &b
}
