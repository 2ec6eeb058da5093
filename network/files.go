package network

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/automoto/kartsync/shared/filetx"
	"github.com/automoto/kartsync/shared/messages"
)

type fetchResult struct {
	index int
	data  []byte
	err   error
}

func (c *Client) checkFiles() {
	c.missing, _ = filetx.Missing(c.opts.Content, c.manifest)
	var total int64
	for _, i := range c.missing {
		f := c.manifest[i]
		if !f.WillSend && !c.httpAvailable() {
			c.abortWith("The server has files it will not send: " + f.Name)
			return
		}
		total += f.Size
	}
	if total > 0 || c.serverFull {
		c.opts.Prompter.Ask(ConfirmRequest{ServerName: c.info.ServerName, DownloadBytes: total, Full: c.serverFull})
		c.enter(StateConfirmConnect)
		return
	}
	c.enter(StateLoadingFiles)
}

func (c *Client) confirm() {
	accept, done := c.opts.Prompter.Answer()
	if !done {
		return
	}
	if !accept {
		c.abortWith("Connection cancelled")
		return
	}
	c.lastHeard = c.clock.Now()
	if len(c.missing) > 0 {
		c.startDownload()
		c.enter(StateDownloadingFiles)
		return
	}
	c.enter(StateLoadingFiles)
}

func (c *Client) httpAvailable() bool {
	return c.cfg.HTTPDownload && (c.opts.Fetcher != nil || c.info.HTTPSource != "")
}

// startDownload fetches the missing files over HTTP when a source is
// known. Failed files fall back to in-protocol transfer.
func (c *Client) startDownload() {
	if !c.httpAvailable() {
		return
	}
	fetcher := c.opts.Fetcher
	if fetcher == nil {
		fetcher = filetx.NewHTTPFetcher(c.info.HTTPSource)
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.fetches = make(chan fetchResult, len(c.missing))
	c.fetchesLeft = len(c.missing)
	for _, i := range c.missing {
		name := c.manifest[i].Name
		go func(i int) {
			data, err := fetcher.Fetch(ctx, name)
			c.fetches <- fetchResult{index: i, data: data, err: err}
		}(i)
	}
}

func (c *Client) download(now time.Time) {
	if c.fetches != nil {
		c.collectFetches()
		if c.state != StateDownloadingFiles {
			return
		}
	}
	if c.fetches == nil && c.due(now, c.cfg.JoinRetry) && c.ensureNode() {
		ids := make([]uint8, 0, len(c.missing))
		for _, i := range c.missing {
			ids = append(ids, uint8(i+1))
		}
		if len(ids) > 0 {
			_ = c.send(messages.RequestFile{IDs: ids}, true)
		}
	}
	if len(c.missing) == 0 {
		c.enter(StateLoadingFiles)
	}
}

// collectFetches stores finished HTTP downloads without blocking.
func (c *Client) collectFetches() {
	for {
		select {
		case r := <-c.fetches:
			c.lastHeard = c.clock.Now()
			f := c.manifest[r.index]
			log := c.log.WithField("file", f.Name)
			if r.err == nil && filetx.Checksum(r.data) != f.Checksum {
				r.err = filetx.ErrBadFragment
			}
			if r.err != nil {
				log.WithError(r.err).Warn("http download failed, asking the server")
			} else if err := c.saveFile(r.index, r.data); err != nil {
				return
			}
			c.fetchesLeft--
			if c.fetchesLeft == 0 {
				c.fetches = nil
				c.cancel()
				c.cancel = nil
				return
			}
		default:
			return
		}
	}
}

func (c *Client) saveFile(index int, data []byte) error {
	f := c.manifest[index]
	if err := c.opts.Content.Save(f.Name, data); err != nil {
		c.abortWith("Cannot save " + f.Name + ": " + err.Error())
		return err
	}
	if st := c.opts.Content.Status(f); st != filetx.StatusFound {
		c.abortWith("Downloaded file " + f.Name + " is " + st.String())
		return filetx.ErrBadFragment
	}
	c.log.WithFields(logrus.Fields{"file": f.Name, "bytes": len(data)}).Info("file downloaded")
	c.missing = removeIndex(c.missing, index)
	return nil
}

func removeIndex(list []int, v int) []int {
	out := list[:0]
	for _, x := range list {
		if x != v {
			out = append(out, x)
		}
	}
	return out
}

func (c *Client) loadFiles() {
	if missing, _ := filetx.Missing(c.opts.Content, c.manifest); len(missing) > 0 {
		c.abortWith("Files are still missing after download")
		return
	}
	c.enter(StateAskingJoin)
}

func (c *Client) handleFragment(m messages.FileFragment) {
	switch {
	case m.FileID == messages.SaveGameFileID && c.state == StateDownloadingSaveGame:
	case m.FileID != messages.SaveGameFileID && c.state == StateDownloadingFiles:
	default:
		return
	}
	done, err := c.receiver.Accept(m)
	if err != nil {
		c.log.WithError(err).Debug("bad file fragment")
		return
	}
	if !done {
		return
	}
	data, _ := c.receiver.Take(m.FileID)
	if m.FileID == messages.SaveGameFileID {
		c.loadGameState(data)
		return
	}
	index := int(m.FileID) - 1
	if index < 0 || index >= len(c.manifest) {
		return
	}
	_ = c.saveFile(index, data)
}
