package payment

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Metadata keys written on the checkout session. Provider metadata is a flat
// string map with a 500 character ceiling per value.
const (
	KeySchemaVersion  = "schema_version"
	KeyImageCount     = "image_count"
	KeyImageURLPrefix = "imageUrl_"
	KeyLegacyImageURL = "imageUrl"
	KeyPrompt         = "prompt"
	KeyUserID         = "userId"
	KeyChatID         = "chatId"

	MetadataSchemaVersion = "1"
	MaxMetadataValue      = 500
)

var ErrMalformedMetadata = errors.New("malformed image metadata")

func imageKey(i int) string {
	return KeyImageURLPrefix + strconv.Itoa(i)
}

// EncodeImages writes urls as image_count plus imageUrl_0..imageUrl_{n-1}.
func EncodeImages(md map[string]string, urls []string) {
	for i, u := range urls {
		md[imageKey(i)] = u
	}
	md[KeyImageCount] = strconv.Itoa(len(urls))
}

// DecodeImages reverses EncodeImages. The indexed keys must be exactly
// 0..image_count-1. Sessions written before image_count existed fall back to
// a contiguous run from imageUrl_0, then to the single legacy imageUrl key.
func DecodeImages(md map[string]string) ([]string, error) {
	indexed := indexedImageKeys(md)

	countStr, ok := md[KeyImageCount]
	if !ok {
		urls := make([]string, 0, len(indexed))
		for i := 0; ; i++ {
			u, ok := md[imageKey(i)]
			if !ok {
				break
			}
			urls = append(urls, u)
		}
		if len(urls) != len(indexed) {
			return nil, fmt.Errorf("%w: non-contiguous image keys", ErrMalformedMetadata)
		}
		if len(urls) == 0 && md[KeyLegacyImageURL] != "" {
			urls = append(urls, md[KeyLegacyImageURL])
		}
		return urls, nil
	}

	n, err := strconv.Atoi(countStr)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%w: image_count=%q", ErrMalformedMetadata, countStr)
	}
	if len(indexed) != n {
		return nil, fmt.Errorf("%w: image_count=%d but %d image keys", ErrMalformedMetadata, n, len(indexed))
	}
	urls := make([]string, n)
	for i := 0; i < n; i++ {
		u, ok := md[imageKey(i)]
		if !ok || u == "" {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedMetadata, imageKey(i))
		}
		urls[i] = u
	}
	return urls, nil
}

// ImagesFromMetadata is the lenient reader: it returns DecodeImages' result
// when the encoding is valid, otherwise every indexed key ordered by index
// together with the validation error.
func ImagesFromMetadata(md map[string]string) ([]string, error) {
	urls, err := DecodeImages(md)
	if err == nil {
		return urls, nil
	}
	idx := indexedImageKeys(md)
	sort.Ints(idx)
	urls = make([]string, 0, len(idx))
	for _, i := range idx {
		if u := md[imageKey(i)]; u != "" {
			urls = append(urls, u)
		}
	}
	return urls, err
}

// StripImageKeys returns a copy of md without the imageUrl_{n} keys.
func StripImageKeys(md map[string]string) map[string]string {
	out := make(map[string]string, len(md))
	for k, v := range md {
		if strings.HasPrefix(k, KeyImageURLPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

func indexedImageKeys(md map[string]string) []int {
	var idx []int
	for k := range md {
		rest, ok := strings.CutPrefix(k, KeyImageURLPrefix)
		if !ok {
			continue
		}
		i, err := strconv.Atoi(rest)
		if err != nil || i < 0 || strconv.Itoa(i) != rest {
			continue
		}
		idx = append(idx, i)
	}
	return idx
}

// Truncate cuts s to at most n characters without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
