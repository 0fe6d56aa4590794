package engineclient

import (
	"encoding/json"
	"strconv"
)

// AriaStatus is the wire shape of one engine tellStatus/tellActive/...
// entry. The engine reports every numeric field as a JSON string.
type AriaStatus struct {
	Gid             string      `json:"gid"`
	Status          string      `json:"status"`
	TotalLength     string      `json:"totalLength"`
	CompletedLength string      `json:"completedLength"`
	DownloadSpeed   string      `json:"downloadSpeed"`
	UploadSpeed     string      `json:"uploadSpeed"`
	Connections     string      `json:"connections"`
	ErrorCode       string      `json:"errorCode"`
	ErrorMessage    string      `json:"errorMessage"`
	Dir             string      `json:"dir"`
	BitTorrent      *BitTorrent `json:"bittorrent"`
	Files           []AriaFile  `json:"files"`
}

type BitTorrent struct {
	Info *struct {
		Name string `json:"name"`
	} `json:"info"`
}

type AriaFile struct {
	Path            string `json:"path"`
	Length          string `json:"length"`
	CompletedLength string `json:"completedLength"`
	Selected        string `json:"selected"`
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (f AriaFile) LengthInt() int64          { return parseInt(f.Length) }
func (f AriaFile) CompletedLengthInt() int64 { return parseInt(f.CompletedLength) }
func (f AriaFile) SelectedBool() bool        { return f.Selected == "true" }

func (s AriaStatus) TotalLengthInt() int64     { return parseInt(s.TotalLength) }
func (s AriaStatus) CompletedLengthInt() int64 { return parseInt(s.CompletedLength) }
func (s AriaStatus) DownloadSpeedInt() int64   { return parseInt(s.DownloadSpeed) }
func (s AriaStatus) UploadSpeedInt() int64     { return parseInt(s.UploadSpeed) }
func (s AriaStatus) ConnectionsInt() int64     { return parseInt(s.Connections) }

// HasMetadata reports whether the engine has resolved the torrent's
// metadata (name/file list), distinguishing a magnet still in the
// metadata-exchange phase from one with known content.
func (s AriaStatus) HasMetadata() bool {
	return s.BitTorrent != nil && s.BitTorrent.Info != nil && s.BitTorrent.Info.Name != ""
}

// Name returns the best available display name for the task.
func (s AriaStatus) Name() string {
	if s.BitTorrent != nil && s.BitTorrent.Info != nil && s.BitTorrent.Info.Name != "" {
		return s.BitTorrent.Info.Name
	}
	if len(s.Files) > 0 {
		return s.Files[0].Path
	}
	return ""
}

// ParseStatus unmarshals one raw tellStatus/tellActive/... entry.
func ParseStatus(raw json.RawMessage) (AriaStatus, error) {
	var s AriaStatus
	err := json.Unmarshal(raw, &s)
	return s, err
}

// ParseStatusList unmarshals a batch returned by tellActive/tellWaiting/tellStopped.
func ParseStatusList(raws []json.RawMessage) ([]AriaStatus, error) {
	out := make([]AriaStatus, 0, len(raws))
	for _, raw := range raws {
		s, err := ParseStatus(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
