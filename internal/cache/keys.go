package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// search:params:{params_hash} -> search id of the latest record for these parameters
func SearchParamsKey(paramsHash string) string {
	return fmt.Sprintf("search:params:%s", strings.ToLower(strings.TrimSpace(paramsHash)))
}

// search:record:{search_id} -> JSON SearchRecord
func SearchRecordKey(searchID string) string {
	return fmt.Sprintf("search:record:%s", url.PathEscape(strings.TrimSpace(searchID)))
}
