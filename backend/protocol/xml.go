package protocol

import (
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"danmakuoverlay/core/backend/danmaku"
)

// ParseXML reads the legacy document format:
//
//	<i><d p="seconds,mode,size,color,ctime,pool,midHash,id">text</d>...</i>
//
// Entries with an unreadable attribute or empty text are skipped.
func ParseXML(r io.Reader) ([]Elem, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	elems := make([]Elem, 0, 256)
	doc.Find("d").Each(func(_ int, sel *goquery.Selection) {
		attr, ok := sel.Attr("p")
		if !ok {
			return
		}
		content := strings.TrimSpace(sel.Text())
		if content == "" {
			return
		}
		elem, ok := parseXMLAttr(attr)
		if !ok {
			return
		}
		elem.Content = content
		elems = append(elems, elem)
	})
	sort.SliceStable(elems, func(i, j int) bool {
		return elems[i].Progress < elems[j].Progress
	})
	return elems, nil
}

func parseXMLAttr(attr string) (Elem, bool) {
	parts := strings.Split(attr, ",")
	if len(parts) < 4 {
		return Elem{}, false
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || seconds < 0 || math.IsNaN(seconds) {
		return Elem{}, false
	}
	elem := newElem()
	elem.Progress = int32(math.Round(seconds * 1000))
	if mode, err := strconv.Atoi(strings.TrimSpace(parts[1])); err == nil {
		elem.Mode = int32(mode)
	}
	if size, err := strconv.Atoi(strings.TrimSpace(parts[2])); err == nil && size > 0 {
		elem.FontSize = int32(size)
	}
	if color, err := strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 32); err == nil {
		elem.Color = uint32(color) & 0xFFFFFF
	}
	if len(parts) > 4 {
		elem.Ctime, _ = strconv.ParseInt(strings.TrimSpace(parts[4]), 10, 64)
	}
	if len(parts) > 5 {
		if pool, err := strconv.Atoi(strings.TrimSpace(parts[5])); err == nil {
			elem.Pool = int32(pool)
		}
	}
	if len(parts) > 6 {
		elem.MidHash = strings.TrimSpace(parts[6])
	}
	if len(parts) > 7 {
		elem.IDStr = strings.TrimSpace(parts[7])
		elem.ID, _ = strconv.ParseInt(elem.IDStr, 10, 64)
	}
	if len(parts) > 8 {
		if weight, err := strconv.Atoi(strings.TrimSpace(parts[8])); err == nil {
			elem.Weight = int32(weight)
		}
	}
	return elem, true
}

// ParseXMLItems is ParseXML followed by Elem.Item.
func ParseXMLItems(r io.Reader) ([]danmaku.Item, error) {
	elems, err := ParseXML(r)
	if err != nil {
		return nil, err
	}
	items := make([]danmaku.Item, 0, len(elems))
	for _, elem := range elems {
		item := elem.Item()
		item.Source = "xml"
		items = append(items, item)
	}
	return items, nil
}
