package tagr

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"tagr/internal/model"
)

// computeItemHash digests the item's observable state: title, notes, sorted
// tag and field links, and the file reference's url and content hash. Two
// history records with equal ItemHash describe identical item states.
func computeItemHash(item *model.Item) string {
	var b strings.Builder
	fmt.Fprintf(&b, "title=%s\nnotes=%s\nowner=%s\n", item.Title, item.Notes, item.UserLogin)

	tags := make([]string, 0, len(item.Tags))
	for _, t := range item.Tags {
		tags = append(tags, t.TagName+"\x00"+t.UserLogin)
	}
	sort.Strings(tags)
	for _, t := range tags {
		fmt.Fprintf(&b, "tag=%s\n", t)
	}

	fields := make([]string, 0, len(item.Fields))
	for _, f := range item.Fields {
		fields = append(fields, f.FieldName+"\x00"+f.Value+"\x00"+f.UserLogin)
	}
	sort.Strings(fields)
	for _, f := range fields {
		fmt.Fprintf(&b, "field=%s\n", f)
	}

	if item.DataRef != nil {
		fmt.Fprintf(&b, "dataref=%s\x00%s\n", item.DataRef.URL, item.DataRef.Hash)
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
