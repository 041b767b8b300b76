// internal/state/default.go
package state

import "encoding/json"

// defaultDocument is the shape every session starts from and RESET_ALL restores.
// Kept as JSON so numbers share the float64 representation of replayed values.
const defaultDocument = `{
  "stage": "empId",
  "info": {
    "employeeId": "", "employeeName": "", "workOrder": "", "productItem": "", "workStep": "",
    "panel_num": 0, "OK_num": 0, "NG_num": 0,
    "cmd236_flag": false
  },
  "plc": {"up_in": -1, "up_out": -1, "dn_in": -1, "dn_out": -1, "start_message": -1},
  "requested_2DID_dict": {},
  "expected_2DID_dict": {},
  "scanned_2DID_dict": {},
  "other_2DID_dict": {},
  "scan_history": [],
  "side_history_2DID_list": {"left": [], "right": []},
  "history_2DID_dict": {},
  "forceCommand": {"command": false, "triggerTime": null},
  "up_platform_2DID": {
    "left":  {"pdcode": "", "ret_type": "", "detail": ""},
    "right": {"pdcode": "", "ret_type": "", "detail": ""}
  },
  "dn_platform_2DID": {
    "left":  {"pdcode": "", "ret_type": "", "detail": ""},
    "right": {"pdcode": "", "ret_type": "", "detail": ""}
  }
}`

// Default returns a fresh default document.
func Default() map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(defaultDocument), &doc); err != nil {
		panic("state: default document: " + err.Error())
	}
	return doc
}
