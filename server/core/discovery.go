package core

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/automoto/kartsync/shared/bans"
	"github.com/automoto/kartsync/shared/filetx"
	"github.com/automoto/kartsync/shared/messages"
	"github.com/automoto/kartsync/shared/netconfig"
)

// maxLimiters bounds the per-address limiter table.
const maxLimiters = 1024

// discoveryLimiter rate limits AskInfo answers per address.
type discoveryLimiter struct {
	limit    rate.Limit
	burst    int
	limiters map[netip.Addr]*rate.Limiter
}

func newDiscoveryLimiter(perSecond float64, burst int) *discoveryLimiter {
	if perSecond <= 0 {
		return &discoveryLimiter{limit: rate.Inf}
	}
	return &discoveryLimiter{
		limit:    rate.Limit(perSecond),
		burst:    max(1, burst),
		limiters: make(map[netip.Addr]*rate.Limiter),
	}
}

func (d *discoveryLimiter) allow(addr netip.Addr, now time.Time) bool {
	if d.limit == rate.Inf {
		return true
	}
	l, ok := d.limiters[addr]
	if !ok {
		if len(d.limiters) >= maxLimiters {
			clear(d.limiters)
		}
		l = rate.NewLimiter(d.limit, d.burst)
		d.limiters[addr] = l
	}
	return l.AllowN(now, 1)
}

// Info is the ServerInfo the server would send right now.
func (s *Server) Info(echo int64) messages.ServerInfo {
	info := messages.ServerInfo{
		PacketVersion: netconfig.PacketVersion,
		Application:   netconfig.Application,
		Version:       netconfig.Version,
		Subversion:    netconfig.Subversion,
		ServerName:    s.cfg.Name,
		MapName:       s.cfg.MapName,
		GameType:      s.cfg.GameType,
		GameState:     s.gameState(),
		NumPlayers:    uint8(s.game.Humans()),
		MaxPlayers:    uint8(s.maxHumans()),
		Dedicated:     s.cfg.Dedicated,
		Time:          echo,
		Modified:      s.modified,
		HTTPSource:    s.cfg.HTTPSource,
		TotalFiles:    len(s.manifest),
	}
	switch {
	case !s.cfg.AllowJoin:
		info.RefuseReason = ReasonNotAllowed
	case s.reservedSlots() >= s.maxHumans():
		info.RefuseReason = fmt.Sprintf(ReasonFull, s.maxHumans())
	}
	info.Files = s.manifest[:min(len(s.manifest), messages.MaxInfoFiles)]
	return info
}

func (s *Server) handleAskInfo(id int, m messages.AskInfo, now time.Time) {
	n := &s.nodes[id]
	if !s.discovery.allow(n.addr, now) {
		s.log.WithField("addr", n.addr).Debug("discovery rate limited")
		return
	}
	if m.PacketVersion != netconfig.PacketVersion {
		return
	}
	_ = s.send(id, s.Info(m.Time), false)
}

func (s *Server) handleAskFullFileList(id int, m messages.AskFullFileList) {
	first := max(0, m.FirstNum)
	if first > len(s.manifest) {
		return
	}
	end := min(len(s.manifest), first+messages.MaxInfoFiles)
	_ = s.send(id, messages.MoreFilesNeeded{
		FirstNum: first,
		More:     end < len(s.manifest),
		Files:    s.manifest[first:end],
	}, true)
}

// handleRequestFile queues the requested manifest files. Transfer id i+1
// is manifest entry i.
func (s *Server) handleRequestFile(id int, m messages.RequestFile) {
	log := s.log.WithField("node", id)
	for _, fid := range m.IDs {
		i := int(fid) - 1
		if i < 0 || i >= len(s.manifest) || !s.manifest[i].WillSend {
			log.WithField("file", fid).Debug("request for unknown file")
			continue
		}
		if s.files.Sending(id, fid) {
			continue
		}
		data, err := s.content.Load(s.manifest[i].Name)
		if err != nil {
			log.WithError(err).Warn("cannot load requested file")
			continue
		}
		if err := s.files.Queue(id, fid, data); err != nil {
			log.WithError(err).Warn("cannot queue requested file")
			continue
		}
		log.WithField("file", s.manifest[i].Name).Info("sending file")
	}
}

// AddFile adds name to the manifest and broadcasts it to joined nodes.
// Joins are refused until the broadcast is done.
func (s *Server) AddFile(name string) error {
	if len(s.manifest) >= 255 {
		return fmt.Errorf("server: manifest full")
	}
	m, err := filetx.Manifest(s.content, []string{name})
	if err != nil {
		return err
	}
	data, err := s.content.Load(name)
	if err != nil {
		return err
	}
	s.manifest = append(s.manifest, m[0])
	s.modified = true
	var nodes []int
	for id := 1; id < netconfig.MaxNetNodes; id++ {
		if s.nodes[id].inGame {
			nodes = append(nodes, id)
		}
	}
	s.log.WithFields(logrus.Fields{"file": name, "nodes": len(nodes)}).Info("file added")
	return s.files.Broadcast(nodes, uint8(len(s.manifest)), data)
}

// Manifest returns the files clients need.
func (s *Server) Manifest() []messages.FileNeeded { return s.manifest }

// ReloadBans replaces the ban table with the stored list.
func (s *Server) ReloadBans() error {
	if s.banStore == nil {
		return nil
	}
	records, err := s.banStore.Load()
	if err != nil {
		return err
	}
	s.bans.Replace(records)
	s.log.WithField("count", len(records)).Info("ban list loaded")
	return nil
}

func (s *Server) saveBans() {
	if s.banStore == nil {
		return
	}
	if err := s.banStore.Save(s.bans.Records()); err != nil {
		s.log.WithError(err).Error("cannot save ban list")
	}
}

func (s *Server) addBan(r bans.Record) {
	s.bans.Add(r)
	s.log.WithFields(logrus.Fields{"prefix": r.Prefix, "user": r.Username, "expires": r.Expires}).Info("address banned")
	s.saveBans()
}

// BanAddress bans prefix directly.
func (s *Server) BanAddress(prefix netip.Prefix, reason string) {
	s.addBan(bans.Record{Prefix: prefix.Masked(), Reason: reason})
}

// ClearBans empties and saves the ban table.
func (s *Server) ClearBans() {
	s.bans.Clear()
	s.saveBans()
}

// Bans lists the active ban records.
func (s *Server) Bans() []bans.Record { return s.bans.Records() }
