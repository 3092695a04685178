package service

import (
	crand "crypto/rand"
	"fmt"
	"io"
)

const (
	// DiscountCodeAlphabet 折扣码字符集
	DiscountCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	// DiscountCodeLength 折扣码长度
	DiscountCodeLength = 8
	// MaxDiscountCodeLength 与 discount_codes.code 列宽一致
	MaxDiscountCodeLength = 16

	// 大于等于该值的随机字节会被丢弃，保证每个字符均匀分布（252 = 36 * 7）
	discountCodeByteLimit = 256 - 256%len(DiscountCodeAlphabet)
)

// CodeGenerator 单个折扣码生成器
type CodeGenerator interface {
	GenerateCode() (string, error)
}

// RandomCodeGenerator 基于 crypto/rand 的折扣码生成器，可并发调用
type RandomCodeGenerator struct {
	length int
	reader io.Reader
}

// NewRandomCodeGenerator 创建折扣码生成器，length<=0 时使用默认长度
func NewRandomCodeGenerator(length int) *RandomCodeGenerator {
	if length <= 0 {
		length = DiscountCodeLength
	}
	return &RandomCodeGenerator{length: length, reader: crand.Reader}
}

// GenerateCode 生成一个随机折扣码
func (g *RandomCodeGenerator) GenerateCode() (string, error) {
	out := make([]byte, 0, g.length)
	buf := make([]byte, g.length+g.length/2)
	for len(out) < g.length {
		if _, err := io.ReadFull(g.reader, buf); err != nil {
			return "", fmt.Errorf("read random bytes: %w", err)
		}
		for _, b := range buf {
			if int(b) >= discountCodeByteLimit {
				continue
			}
			out = append(out, DiscountCodeAlphabet[int(b)%len(DiscountCodeAlphabet)])
			if len(out) == g.length {
				break
			}
		}
	}
	return string(out), nil
}
