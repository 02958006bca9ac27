package cache

import (
	"bytes"
	"encoding/gob"
	"net/http"
	"time"

	"github.com/genui-chat/offline-worker/internal/fetch"
)

// Record 是落盘的请求 → 响应快照，写入后不可变，只能整体覆盖。
type Record struct {
	Key      string
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Vary     map[string]string
	StoredAt time.Time
	Seq      int64
}

// Response 以缓存快照构建一个新的可读响应。
func (r *Record) Response() *fetch.Response {
	resp := fetch.NewBufferedResponse(r.Status, r.Header.Clone(), r.Body)
	resp.URL = r.URL
	resp.Source = fetch.SourceCache
	return resp
}

// cacheInfo 记录缓存名称及其创建序号，用于稳定排序。
type cacheInfo struct {
	Name string
	Seq  int64
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func init() {
	gob.Register(http.Header{})
}
