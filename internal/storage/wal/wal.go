package wal

// ============================================================================
// WAL 核心實作
// 職責：
// 1. 追加已接受的變更到日誌檔案（append-only）
// 2. 提供重放功能以恢復系統狀態
// 3. 支援日誌旋轉（快照後清空，序號保持遞增）
// 4. 確保寫入持久性與資料完整性
// ============================================================================

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

// FileInterface 定義檔案操作所需的方法
type FileInterface interface {
	Write(p []byte) (n int, err error)
	Sync() error
	Close() error
}

// Options WAL 設定
type Options struct {
	SyncOnAppend    bool          // 每次追加都立即寫入並同步
	BufferSize      int           // 緩衝事件數上限，達到即寫入
	FlushInterval   time.Duration // 距上次寫入超過此時間即寫入
	CompressRotated bool          // 旋轉出的舊檔以 gzip 壓縮
}

// DefaultOptions 預設設定
func DefaultOptions() Options {
	return Options{
		BufferSize:    1000,
		FlushInterval: time.Second,
	}
}

// WAL 表示 Write-Ahead Log 實例
type WAL struct {
	mu      sync.Mutex
	file    FileInterface
	encoder *json.Encoder
	path    string
	seq     uint64
	opts    Options
	closed  bool

	buffer        []Event
	lastFlushTime time.Time
}

// ============================================================================
// 公開介面
// ============================================================================

/*
NewWAL 建立或開啟一個 WAL 實例

行為：
- 如果檔案不存在，建立新檔案，seq 從 0 開始
- 如果檔案已存在，讀取最後一個事件的 seq 並繼續
- 以追加模式（O_APPEND）開啟，確保寫入不覆蓋
*/
func NewWAL(path string, opts Options) (*WAL, error) {
	def := DefaultOptions()
	if opts.BufferSize <= 0 {
		opts.BufferSize = def.BufferSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = def.FlushInterval
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}

	var seq uint64
	if stat, statErr := file.Stat(); statErr == nil && stat.Size() > 0 {
		last, err := GetLastEvent(path)
		if err != nil {
			file.Close()
			return nil, err
		}
		seq = last.Seq
	}

	return &WAL{
		file:          file,
		encoder:       json.NewEncoder(file),
		path:          path,
		seq:           seq,
		opts:          opts,
		buffer:        make([]Event, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
	}, nil
}

// Append 追加一個事件到 WAL
//
// 行為：
// - 自動遞增 seq
// - 計算 checksum
// - 先放入緩衝；強制寫入、緩衝已滿或超時時才寫入並同步到磁碟
//
// 回傳：
//
//	事件序號，錯誤（如果寫入失敗）
func (w *WAL) Append(eventType EventType, today types.Date, payload any, forceFlush bool) (uint64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("wal: encode %s payload: %w", eventType, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, ErrWALClosed
	}

	w.seq++
	event := Event{
		Seq:       w.seq,
		Type:      eventType,
		Today:     today,
		Payload:   raw,
		Timestamp: time.Now().UnixMilli(),
	}
	event.Checksum = CalculateChecksum(eventType, event.Seq, today, raw)
	w.buffer = append(w.buffer, event)

	needFlush := forceFlush || w.opts.SyncOnAppend ||
		len(w.buffer) >= w.opts.BufferSize ||
		time.Since(w.lastFlushTime) > w.opts.FlushInterval
	if needFlush {
		if err := w.flushLocked(); err != nil {
			return event.Seq, err
		}
	}
	return event.Seq, nil
}

// Replay 重放所有 WAL 事件
//
// 行為：
// - 先寫出緩衝中的事件
// - 從頭讀取 WAL 檔案並驗證每個事件的 checksum
// - 呼叫 handler 應用事件，遇到錯誤立即停止
func (w *WAL) Replay(handler EventHandler) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	return scan(w.path, func(event Event) error {
		if err := VerifyChecksum(event); err != nil {
			return err
		}
		return handler(event)
	})
}

// Rotate 旋轉日誌檔案
//
// 舊檔改名為帶時間戳的備份（可選 gzip 壓縮），新檔從空白開始。
// 序號不歸零，快照的 LastSeq 在旋轉後仍可用來判斷哪些事件已包含在快照中。
func (w *WAL) Rotate() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWALClosed
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}

	backupPath := fmt.Sprintf("%s.%s.%d", w.path, time.Now().Format("20060102_150405"), w.seq)
	if err := os.Rename(w.path, backupPath); err != nil {
		return err
	}

	newFile, err := os.OpenFile(w.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	w.file = newFile
	w.encoder = json.NewEncoder(newFile)
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()

	if w.opts.CompressRotated {
		if err := compressWALFile(backupPath, backupPath+".gz"); err != nil {
			return fmt.Errorf("wal: compress %s: %w", backupPath, err)
		}
		return os.Remove(backupPath)
	}
	return nil
}

// EnsureSeq 確保下一個事件序號大於 seq
//
// 旋轉後的空日誌重新開啟時序號會從 0 開始；
// 載入快照後以快照的 LastSeq 呼叫，維持序號單調遞增。
func (w *WAL) EnsureSeq(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.seq {
		w.seq = seq
	}
}

// Flush 寫出緩衝中的事件
func (w *WAL) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWALClosed
	}
	return w.flushLocked()
}

// Close 關閉 WAL；關閉後的實例不可重用
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	if err := w.flushLocked(); err != nil {
		return err
	}
	w.closed = true
	return w.file.Close()
}

// GetLastSeq 取得當前的事件序號
//
// 用途：快照時需要記錄 last_seq，確保恢復時知道從哪裡開始重放
func (w *WAL) GetLastSeq() uint64 {
	if w == nil {
		return 0
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Path WAL 檔案路徑
func (w *WAL) Path() string {
	return w.path
}

// ============================================================================
// 內部輔助方法（私有）
// ============================================================================

// flushLocked 假設調用者已經持有 w.mu 鎖
func (w *WAL) flushLocked() error {
	if len(w.buffer) == 0 {
		return nil
	}
	for _, event := range w.buffer {
		if err := w.encoder.Encode(event); err != nil {
			return err
		}
	}
	w.buffer = w.buffer[:0]
	w.lastFlushTime = time.Now()
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("wal: sync: %w", err)
	}
	return nil
}

// compressWALFile gzip 壓縮旋轉出的舊檔
func compressWALFile(srcPath, dstPath string) error {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dstPath)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	gzipWriter := gzip.NewWriter(dstFile)
	if _, err := io.Copy(gzipWriter, srcFile); err != nil {
		gzipWriter.Close()
		return err
	}
	return gzipWriter.Close()
}
