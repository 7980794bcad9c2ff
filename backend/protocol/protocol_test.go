package protocol

import (
	"bytes"
	"compress/zlib"
	"errors"
	"strings"
	"testing"

	"github.com/andybalholm/brotli"
	"google.golang.org/protobuf/encoding/protowire"

	"danmakuoverlay/core/backend/danmaku"
)

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func encodeWebView(segField protowire.Number, pageSize, total uint64, countField protowire.Number, count uint64) []byte {
	var seg []byte
	seg = appendVarintField(seg, 1, pageSize)
	seg = appendVarintField(seg, 2, total)
	var msg []byte
	msg = appendBytesField(msg, segField, seg)
	msg = appendVarintField(msg, countField, count)
	return msg
}

func encodeElem(id uint64, progress uint64, mode uint64, color uint64, content string) []byte {
	var elem []byte
	elem = appendVarintField(elem, 1, id)
	elem = appendVarintField(elem, 2, progress)
	elem = appendVarintField(elem, 3, mode)
	if color > 0 {
		elem = appendVarintField(elem, 5, color)
	}
	elem = appendStringField(elem, 6, "abc123")
	if content != "" {
		elem = appendStringField(elem, 7, content)
	}
	return elem
}

func TestDecodeWebViewSchemaTolerance(t *testing.T) {
	cases := []struct {
		name       string
		segField   protowire.Number
		countField protowire.Number
		total      uint64
		count      uint64
	}{
		{name: "new layout", segField: 4, countField: 8, total: 16, count: 16000},
		{name: "old layout", segField: 3, countField: 7, total: 9, count: 9999},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reply, err := DecodeWebView(encodeWebView(tc.segField, 360000, tc.total, tc.countField, tc.count))
			if err != nil {
				t.Fatalf("decode failed: %v", err)
			}
			if reply.DmSge == nil {
				t.Fatalf("dmSge missing")
			}
			if reply.DmSge.PageSize != 360000 || reply.DmSge.Total != int64(tc.total) {
				t.Fatalf("unexpected dmSge: %+v", *reply.DmSge)
			}
			if reply.Count != int64(tc.count) {
				t.Fatalf("unexpected count: %d", reply.Count)
			}
		})
	}
}

func TestDecodeWebViewFlagCommandsAndSetting(t *testing.T) {
	var flag []byte
	flag = appendVarintField(flag, 1, 1)
	flag = appendStringField(flag, 2, "推荐弹幕")

	var cmd []byte
	cmd = appendVarintField(cmd, 1, 42)
	cmd = appendStringField(cmd, 4, "#VOTE#")
	cmd = appendStringField(cmd, 5, "投票")
	cmd = appendVarintField(cmd, 6, 12000)

	var setting []byte
	setting = appendVarintField(setting, 4, 1)
	setting = appendVarintField(setting, 8, 1)

	var msg []byte
	msg = appendVarintField(msg, 1, 1)
	msg = appendBytesField(msg, 4, []byte{})
	msg = appendBytesField(msg, 5, flag)
	msg = appendVarintField(msg, 8, 77)
	msg = appendBytesField(msg, 9, cmd)
	msg = appendBytesField(msg, 10, setting)

	reply, err := DecodeWebView(msg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if reply.Flag == nil || reply.Flag.RecText != "推荐弹幕" {
		t.Fatalf("flag not decoded: %+v", reply.Flag)
	}
	if reply.DmSge != nil {
		t.Fatalf("empty submessage should not become dmSge")
	}
	if len(reply.CommandDms) != 1 || reply.CommandDms[0].Command != "#VOTE#" || reply.CommandDms[0].Progress != 12000 {
		t.Fatalf("unexpected commands: %+v", reply.CommandDms)
	}
	if reply.DmSetting == nil || !reply.DmSetting.BlockTop || !reply.DmSetting.BlockSpecial || reply.DmSetting.BlockScroll {
		t.Fatalf("unexpected setting: %+v", reply.DmSetting)
	}
	if reply.Count != 77 {
		t.Fatalf("unexpected count: %d", reply.Count)
	}
}

func TestDecodeWebViewSpecialURL(t *testing.T) {
	msg := appendStringField(nil, 5, "https://i0.hdslb.com/bfs/dm/special.bin")
	reply, err := DecodeWebView(msg)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(reply.SpecialDms) != 1 {
		t.Fatalf("expected special url, got %+v", reply.SpecialDms)
	}
}

func TestDecodeSegmentSortsAndDropsEmpty(t *testing.T) {
	var page []byte
	page = appendBytesField(page, 1, encodeElem(1, 5000, 1, 0, "later"))
	page = appendBytesField(page, 1, encodeElem(2, 1000, 5, 0xFF0000, "earlier"))
	page = appendBytesField(page, 1, encodeElem(3, 2000, 1, 0, ""))
	page = appendVarintField(page, 9, 3)

	elems, err := DecodeSegment(page)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(elems) != 2 {
		t.Fatalf("expected 2 elems, got %d", len(elems))
	}
	if elems[0].Content != "earlier" || elems[1].Content != "later" {
		t.Fatalf("elems not ordered by progress: %+v", elems)
	}
	if elems[1].Color != danmaku.DefaultColor || elems[1].FontSize != danmaku.DefaultFontSize {
		t.Fatalf("defaults not applied: %+v", elems[1])
	}
	item := elems[0].Item()
	if item.Type != danmaku.TypeTop || item.Color != 0xFF0000 || item.UserID != "abc123" {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestDecodeSegmentTruncatedReturnsPartial(t *testing.T) {
	var page []byte
	page = appendBytesField(page, 1, encodeElem(1, 1000, 1, 0, "first"))
	second := appendBytesField(nil, 1, encodeElem(2, 2000, 1, 0, "second"))
	page = append(page, second[:len(second)-3]...)

	elems, err := DecodeSegment(page)
	if !errors.Is(err, ErrTruncated) {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
	if len(elems) != 1 || elems[0].Content != "first" {
		t.Fatalf("expected partial page, got %+v", elems)
	}
}

func TestSegmentCount(t *testing.T) {
	cases := []struct {
		duration int64
		total    int64
		want     int
	}{
		{duration: 360000, want: 1},
		{duration: 360001, want: 2},
		{duration: 0, total: 16, want: 16},
		{duration: 0, total: 0, want: 3},
	}
	for _, tc := range cases {
		if got := SegmentCount(tc.duration, tc.total); got != tc.want {
			t.Errorf("SegmentCount(%d,%d)=%d want %d", tc.duration, tc.total, got, tc.want)
		}
	}
}

func TestParseXML(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?><i>
<d p="12.5,5,25,16711680,1700000000,0,deadbeef,99">置顶</d>
<d p="1.0,1,25,16777215,1700000000,0,cafe,100">滚动</d>
<d p="bad">坏</d>
<d p="3,1,25,16777215">   </d>
</i>`
	elems, err := ParseXML(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(elems) != 2 {
		t.Fatalf("expected 2 elems, got %d", len(elems))
	}
	if elems[0].Content != "滚动" || elems[0].Progress != 1000 {
		t.Fatalf("unexpected first elem: %+v", elems[0])
	}
	if elems[1].Mode != 5 || elems[1].Color != 0xFF0000 || elems[1].ID != 99 || elems[1].MidHash != "deadbeef" {
		t.Fatalf("unexpected second elem: %+v", elems[1])
	}
}

func TestDecodePacketsInflatesNestedBodies(t *testing.T) {
	body := []byte(`{"cmd":"DANMU_MSG:4:0:2:2:2:0","info":[[0,5,25,65280,1700000000000,0],"你好",[1234,"tester"]]}`)
	inner := append(EncodePacket(OpMessage, 0, 0, body), EncodePacket(OpHeartbeatReply, 1, 0, []byte{0, 0, 0, 1})...)

	var zbuf bytes.Buffer
	zw := zlib.NewWriter(&zbuf)
	_, _ = zw.Write(inner)
	_ = zw.Close()

	var bbuf bytes.Buffer
	bw := brotli.NewWriter(&bbuf)
	_, _ = bw.Write(inner)
	_ = bw.Close()

	frame := append(EncodePacket(OpMessage, 2, 0, zbuf.Bytes()), EncodePacket(OpMessage, 3, 0, bbuf.Bytes())...)
	packets, err := DecodePackets(frame)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(packets) != 4 {
		t.Fatalf("expected 4 packets, got %d", len(packets))
	}
	item, ok := ParseLiveDanmaku(packets[0].Payload, 3000)
	if !ok {
		t.Fatalf("live danmaku not parsed")
	}
	if item.Content != "你好" || item.Type != danmaku.TypeTop || item.Color != 0x00FF00 || item.UserID != "1234" || item.TimestampMs != 3000 {
		t.Fatalf("unexpected item: %+v", item)
	}
}

func TestDecodePacketsRejectsBadLength(t *testing.T) {
	frame := EncodePacket(OpMessage, 0, 0, []byte("{}"))
	frame[3] = 200
	if _, err := DecodePackets(frame); err == nil {
		t.Fatalf("expected length error")
	}
}
