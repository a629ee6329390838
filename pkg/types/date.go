package types

import (
	"fmt"
	"time"
)

// DateLayout 日期的文字格式
const DateLayout = "2006-01-02"

const secondsPerDay = 24 * 60 * 60

// Date 不含時間的日曆日期，以 1970-01-01 起算的天數表示。
// 可直接作為 map key 並以整數比較先後。
type Date int32

// NewDate 以年月日建立日期
func NewDate(year int, month time.Month, day int) Date {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf 取 t 在其所屬時區的日曆日期
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	secs := time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
	days := secs / secondsPerDay
	if secs%secondsPerDay < 0 {
		days--
	}
	return Date(days)
}

// Today 回傳本地時區的今天
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate 解析 YYYY-MM-DD
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time 回傳該日 UTC 零時
func (d Date) Time() time.Time {
	return time.Unix(int64(d)*secondsPerDay, 0).UTC()
}

// AddDays 加減天數
func (d Date) AddDays(n int) Date {
	return d + Date(n)
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d < other
}

func (d Date) String() string {
	return d.Time().Format(DateLayout)
}

// MarshalText 讓 JSON、YAML 都以 YYYY-MM-DD 表示日期
func (d Date) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText 解析 YYYY-MM-DD
func (d *Date) UnmarshalText(text []byte) error {
	parsed, err := ParseDate(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
