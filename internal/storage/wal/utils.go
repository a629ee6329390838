package wal

// ============================================================================
// WAL 工具函式
// 職責：提供日誌相關的輔助功能（讀取、驗證、診斷）
// ============================================================================

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// scan 依序解碼檔案中的每個事件，不驗證 checksum
func scan(path string, fn func(Event) error) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var lastSeq uint64
	for {
		var event Event
		offset := decoder.InputOffset()
		if err := decoder.Decode(&event); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return &CorruptionError{Seq: lastSeq, Offset: offset, Cause: err}
		}
		if err := fn(event); err != nil {
			return err
		}
		lastSeq = event.Seq
	}
}

// GetLastEvent 從 WAL 檔案讀取最後一個事件
//
// 從頭到尾掃描；檔案為空時回傳 ErrEmptyWAL。
func GetLastEvent(path string) (*Event, error) {
	var last *Event
	err := scan(path, func(e Event) error {
		last = &e
		return nil
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		return nil, ErrEmptyWAL
	}
	return last, nil
}

// CountEvents 計算 WAL 中的事件總數
func CountEvents(path string) (int, error) {
	count := 0
	err := scan(path, func(Event) error {
		count++
		return nil
	})
	return count, err
}

// ValidateWAL 驗證 WAL 檔案的完整性
//
// 檢查項目：
// - 所有事件的 JSON 格式正確
// - 所有事件的校驗和正確
// - seq 嚴格遞增（旋轉後的檔案不從 1 開始）
func ValidateWAL(path string) error {
	var lastSeq uint64
	return scan(path, func(e Event) error {
		if err := VerifyChecksum(e); err != nil {
			return err
		}
		if e.Seq <= lastSeq {
			return fmt.Errorf("%w: seq=%d after seq=%d", ErrSeqOutOfOrder, e.Seq, lastSeq)
		}
		lastSeq = e.Seq
		return nil
	})
}

// DumpWAL 輸出 WAL 內容（人類可讀格式）
//
//	[Seq:1] ASSIGN today=2026-10-18 at 2026-10-18T08:00:00Z {"date":...} (checksum:0x12345678)
func DumpWAL(path string, w io.Writer) error {
	return scan(path, func(e Event) error {
		mark := ""
		if VerifyChecksum(e) != nil {
			mark = " CORRUPTED"
		}
		_, err := fmt.Fprintf(w, "[Seq:%d] %s today=%s at %s %s (checksum:0x%08x)%s\n",
			e.Seq, e.Type, e.Today, time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339),
			e.Payload, e.Checksum, mark)
		return err
	})
}

// WALStats WAL 統計資訊
type WALStats struct {
	TotalEvents    int               `json:"total_events"`
	EventTypes     map[EventType]int `json:"event_types"`
	FirstSeq       uint64            `json:"first_seq"`
	LastSeq        uint64            `json:"last_seq"`
	TimeRange      [2]int64          `json:"time_range"` // [最早, 最晚] Unix 毫秒
	CorruptedCount int               `json:"corrupted_count"`
}

// GetWALStats 取得 WAL 的統計資訊；校驗和錯誤只計數不中斷
func GetWALStats(path string) (*WALStats, error) {
	stats := &WALStats{EventTypes: make(map[EventType]int)}
	err := scan(path, func(e Event) error {
		if VerifyChecksum(e) != nil {
			stats.CorruptedCount++
			return nil
		}
		if stats.TotalEvents == 0 {
			stats.FirstSeq = e.Seq
			stats.TimeRange[0] = e.Timestamp
		}
		stats.TotalEvents++
		stats.EventTypes[e.Type]++
		stats.LastSeq = e.Seq
		stats.TimeRange[1] = e.Timestamp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}
