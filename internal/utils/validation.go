package utils

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/dataflowslab/core.rompharm-sub001/internal/domain"
)

// 标识符最大长度,与数据库列宽一致
const maxIDLength = 64

var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_.:@-]+$`)

// ValidateID 验证单据、身份、模板编码等标识符
// 只允许字母、数字和 _ . : @ -
func ValidateID(field, id string) error {
	if id == "" {
		return invalid(field, "cannot be empty")
	}
	if len(id) > maxIDLength {
		return invalid(field, fmt.Sprintf("exceeds %d characters", maxIDLength))
	}
	if !idPattern.MatchString(id) {
		return invalid(field, "contains invalid characters")
	}
	return nil
}

// ValidateName 验证显示名称、模板名称
func ValidateName(field, name string, maxLen int) (string, error) {
	trimmed := strings.TrimSpace(name)
	if maxLen > 0 && len(trimmed) > maxLen {
		return "", invalid(field, fmt.Sprintf("exceeds %d characters", maxLen))
	}
	return stripControl(trimmed), nil
}

// stripControl 移除控制字符
func stripControl(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ValidateSort 校验排序字段和方向,字段必须在白名单中
// 返回可直接用于 ORDER BY 的子句
func ValidateSort(sortBy, order string, allowed ...string) (string, error) {
	field := ""
	for _, a := range allowed {
		if a == sortBy {
			field = a
			break
		}
	}
	if field == "" {
		return "", invalid("sort_by", fmt.Sprintf("must be one of %s", strings.Join(allowed, ", ")))
	}

	dir := strings.ToUpper(strings.TrimSpace(order))
	if dir == "" {
		dir = "DESC"
	}
	if dir != "ASC" && dir != "DESC" {
		return "", invalid("order", "must be asc or desc")
	}
	return field + " " + dir, nil
}

func invalid(field, reason string) error {
	return domain.NewError(domain.CodeInvalidArgument, field+" "+reason)
}
