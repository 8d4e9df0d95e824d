package cache

import "fmt"

// Key layout:
// - roomKey(docID):          subscriber candidate set (Set<userId>)
// - memberKey(docID,userID): heartbeat key (String "1" with TTL)
// - namesKey(docID):         userId -> username map (Hash)
// - cursorKey(docID,userID): cursor/selection JSON (String with TTL)
const (
	keyRoomFmt   = "sync:room:%s"
	keyMemberFmt = "sync:member:%s:%s"
	keyNamesFmt  = "sync:room:names:%s"
	keyCursorFmt = "sync:cursor:%s:%s"
)

func roomKey(docID string) string                  { return fmt.Sprintf(keyRoomFmt, docID) }
func memberKey(docID, userID string) string        { return fmt.Sprintf(keyMemberFmt, docID, userID) }
func namesKey(docID string) string                 { return fmt.Sprintf(keyNamesFmt, docID) }
func cursorKey(docID string, userID string) string { return fmt.Sprintf(keyCursorFmt, docID, userID) }
