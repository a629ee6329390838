package wal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證日誌事件的 CRC32 校驗和
// ============================================================================

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/ChuLiYu/line-planner/pkg/types"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 涵蓋 Type、Seq、Today 與 Payload；
// 不包含 Timestamp，它只用於診斷。
func CalculateChecksum(eventType EventType, seq uint64, today types.Date, payload []byte) uint32 {
	var header [12]byte
	binary.BigEndian.PutUint64(header[:8], seq)
	binary.BigEndian.PutUint32(header[8:], uint32(today))

	h := crc32.NewIEEE()
	h.Write([]byte(eventType))
	h.Write(header[:])
	h.Write(payload)
	return h.Sum32()
}

// VerifyChecksum 驗證事件的校驗和，失敗時回傳 *ChecksumError
func VerifyChecksum(event Event) error {
	expected := CalculateChecksum(event.Type, event.Seq, event.Today, event.Payload)
	if event.Checksum != expected {
		return &ChecksumError{Seq: event.Seq, Expected: expected, Actual: event.Checksum}
	}
	return nil
}
