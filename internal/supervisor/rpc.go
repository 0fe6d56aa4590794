package supervisor

import (
	"context"
	"encoding/json"

	"github.com/lc5900/flamingo-downloader/internal/apperr"
	"github.com/lc5900/flamingo-downloader/internal/engine"
	"github.com/lc5900/flamingo-downloader/internal/engineclient"
)

// These methods forward to the currently published engineclient.Client,
// adapting its wire-shaped returns into the engine.Engine capability
// surface. Every one fails fast with apperr.EngineUnavailable if the
// engine has not been started.

func (s *Supervisor) AddURI(ctx context.Context, uris []string, options map[string]string) (string, error) {
	c, err := s.currentClient()
	if err != nil {
		return "", err
	}
	return c.AddURI(ctx, uris, options)
}

func (s *Supervisor) AddTorrent(ctx context.Context, torrentBase64 string, uris []string, options map[string]string) (string, error) {
	c, err := s.currentClient()
	if err != nil {
		return "", err
	}
	return c.AddTorrent(ctx, torrentBase64, uris, options)
}

func (s *Supervisor) Pause(ctx context.Context, gid string) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.Pause(ctx, gid)
}

func (s *Supervisor) Unpause(ctx context.Context, gid string) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.Unpause(ctx, gid)
}

func (s *Supervisor) PauseAll(ctx context.Context) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.PauseAll(ctx)
}

func (s *Supervisor) UnpauseAll(ctx context.Context) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.UnpauseAll(ctx)
}

// Remove dispatches to forceRemove when force is set, matching the
// manager's behavior of skipping the graceful-remove attempt entirely
// for tasks the caller has already decided to discard.
func (s *Supervisor) Remove(ctx context.Context, gid string, force bool) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	if force {
		return c.ForceRemove(ctx, gid)
	}
	return c.Remove(ctx, gid)
}

func (s *Supervisor) RemoveDownloadResult(ctx context.Context, gid string) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.RemoveDownloadResult(ctx, gid)
}

func (s *Supervisor) SaveSession(ctx context.Context) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.SaveSession(ctx)
}

func (s *Supervisor) TellStatus(ctx context.Context, gid string) (engine.Snapshot, error) {
	c, err := s.currentClient()
	if err != nil {
		return engine.Snapshot{}, err
	}
	raw, err := c.TellStatus(ctx, gid, engineclient.DefaultStatusKeys)
	if err != nil {
		return engine.Snapshot{}, err
	}
	status, err := engineclient.ParseStatus(raw)
	if err != nil {
		return engine.Snapshot{}, apperr.Wrap(apperr.RpcProtocol, "parse tellStatus", err)
	}
	return engine.FromAriaStatus(status), nil
}

// TellAll merges the three engine-side task buckets into one snapshot
// list, matching the manager's full-refresh poll.
func (s *Supervisor) TellAll(ctx context.Context) ([]engine.Snapshot, error) {
	c, err := s.currentClient()
	if err != nil {
		return nil, err
	}

	var all []json.RawMessage

	active, err := c.TellActive(ctx, engineclient.DefaultStatusKeys)
	if err != nil {
		return nil, err
	}
	all = append(all, active...)

	waiting, err := c.TellWaiting(ctx, 0, 1000, engineclient.DefaultStatusKeys)
	if err != nil {
		return nil, err
	}
	all = append(all, waiting...)

	stopped, err := c.TellStopped(ctx, 0, 1000, engineclient.DefaultStatusKeys)
	if err != nil {
		return nil, err
	}
	all = append(all, stopped...)

	statuses, err := engineclient.ParseStatusList(all)
	if err != nil {
		return nil, apperr.Wrap(apperr.RpcProtocol, "parse tellAll batch", err)
	}

	snapshots := make([]engine.Snapshot, 0, len(statuses))
	for _, st := range statuses {
		snapshots = append(snapshots, engine.FromAriaStatus(st))
	}
	return snapshots, nil
}

func (s *Supervisor) GetPeers(ctx context.Context, gid string) ([]map[string]interface{}, error) {
	c, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	raws, err := c.GetPeers(ctx, gid)
	if err != nil {
		return nil, err
	}
	peers := make([]map[string]interface{}, 0, len(raws))
	for _, raw := range raws {
		var m map[string]interface{}
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, apperr.Wrap(apperr.RpcProtocol, "parse getPeers entry", err)
		}
		peers = append(peers, m)
	}
	return peers, nil
}

func (s *Supervisor) ChangePosition(ctx context.Context, gid string, pos int, how string) (int, error) {
	c, err := s.currentClient()
	if err != nil {
		return 0, err
	}
	return c.ChangePosition(ctx, gid, pos, how)
}

func (s *Supervisor) ChangeOption(ctx context.Context, gid string, opts map[string]string) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.ChangeOption(ctx, gid, opts)
}

func (s *Supervisor) ChangeGlobalOption(ctx context.Context, opts map[string]string) error {
	c, err := s.currentClient()
	if err != nil {
		return err
	}
	return c.ChangeGlobalOption(ctx, opts)
}

func (s *Supervisor) GetGlobalStat(ctx context.Context) (map[string]interface{}, error) {
	c, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	raw, err := c.GetGlobalStat(ctx)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, apperr.Wrap(apperr.RpcProtocol, "parse getGlobalStat", err)
	}
	return m, nil
}

func (s *Supervisor) GetGlobalOption(ctx context.Context) (map[string]string, error) {
	c, err := s.currentClient()
	if err != nil {
		return nil, err
	}
	return c.GetGlobalOption(ctx)
}

func (s *Supervisor) GetVersion(ctx context.Context) (string, error) {
	c, err := s.currentClient()
	if err != nil {
		return "", err
	}
	return c.GetVersion(ctx)
}
