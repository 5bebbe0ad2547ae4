package service

import (
	"errors"
	"fmt"
	"time"
)

const dayKeyFormat = "2006-01-02"

// ErrInvalidDayKey 在日键格式非法时返回
var ErrInvalidDayKey = errors.New("invalid day key")

// DayKey 将时间戳换算为给定时区下的日键（YYYY-MM-DD）
// 基于墙钟分量而非纪元秒运算，夏令时切换当天日期不会漂移
// 纯函数，可在任意并发上下文安全调用
func DayKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(dayKeyFormat)
}

// ParseDayKey 是 DayKey 的精确逆运算，返回该日在给定时区的本地零点
// 仅接受规范形式（补零的 YYYY-MM-DD），其余输入返回 ErrInvalidDayKey
func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}

	t, err := time.ParseInLocation(dayKeyFormat, key, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDayKey, key)
	}

	// time.Parse 对位数宽松，重排后比对以拒绝 "2025-3-31" 这类非规范输入
	if t.Format(dayKeyFormat) != key {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDayKey, key)
	}

	return t, nil
}

// IsDayKey 判断字符串是否为合法日键
func IsDayKey(key string) bool {
	_, err := ParseDayKey(key, time.UTC)
	return err == nil
}
