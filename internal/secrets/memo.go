package secrets

import "fmt"

// Payment memos identify the operation a transaction paid for.

func StoreMemo(name, userID string) string {
	return fmt.Sprintf("petnet operation: store_values; name: %s; user_id: %s", name, userID)
}

func RetrieveMemo(name, storeID string) string {
	return fmt.Sprintf("petnet operation: retrieve_value; name: %s; store_id: %s", name, storeID)
}

func UpdateMemo(storeID string) string {
	return fmt.Sprintf("petnet operation: update_value; store_id: %s", storeID)
}
