package kvstore

import "fmt"

const (
	defPrefix   = "seq/def/"
	posPrefix   = "seq/pos/"
	grantPrefix = "seq/grant/"
)

var grantSeqKey = []byte("meta/grant_seq")

func defKey(key string) []byte { return []byte(defPrefix + key) }

func posKey(key string) []byte { return []byte(posPrefix + key) }

// grantsPrefix is the prefix of every grant of one sequence. The NUL
// separator keeps "a" from matching the grants of "a/b".
func grantsPrefix(key string) []byte { return []byte(grantPrefix + key + "\x00") }

func grantKey(key string, seq int64) []byte {
	return fmt.Appendf(grantsPrefix(key), "%020d", seq)
}

// upperBound returns the smallest key greater than every key with prefix.
func upperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
