package directory

import "fmt"

const keyPrefixRoom = "room:"

func roomMetaKey(roomID string) string {
	return fmt.Sprintf("%s%s:meta", keyPrefixRoom, roomID)
}

func roomMembersKey(roomID string) string {
	return fmt.Sprintf("%s%s:members", keyPrefixRoom, roomID)
}

func roomSubHostsKey(roomID string) string {
	return fmt.Sprintf("%s%s:subhosts", keyPrefixRoom, roomID)
}

func userSocketsKey(roomID, userID string) string {
	return fmt.Sprintf("%s%s:user:%s:sockets", keyPrefixRoom, roomID, userID)
}

func roomChatKey(roomID string) string {
	return fmt.Sprintf("%s%s:chat", keyPrefixRoom, roomID)
}
