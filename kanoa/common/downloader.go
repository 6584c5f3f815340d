/*
 * Copyright (c) The Kowabunga Project
 * Apache License, Version 2.0 (see LICENSE or https://www.apache.org/licenses/LICENSE-2.0.txt)
 * SPDX-License-Identifier: Apache-2.0
 */

package common

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cavaliergopher/grab/v3"

	"github.com/kowabunga-cloud/kanoa/kanoa/common/klog"
)

const (
	DownloaderProgressMsg  = "Downloading %s (%.02f%% completed) - %s"
	DownloaderCompletedMsg = "Image from %s has been retrieved at %.02f Mbps"
)

// DownloadFromURL fetches url into dst, validating the sha256 checksum when
// one is given. A mismatching checksum removes dst.
func DownloadFromURL(ctx context.Context, url, dst, csum string) error {
	klog.Infof("Downloading image from %s ...", url)

	req, err := grab.NewRequest(dst, url)
	if err != nil {
		return err
	}
	req = req.WithContext(ctx)

	if csum != "" {
		sum, err := hex.DecodeString(csum)
		if err != nil {
			return fmt.Errorf("invalid sha256 checksum %q: %w", csum, err)
		}
		req.SetChecksum(sha256.New(), sum, true)
	}

	resp := grab.NewClient().Do(req)

	t := time.NewTicker(5 * time.Second)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			eta := time.Until(resp.ETA()).Seconds()
			msg := "ETA being calculated"
			if eta > 0 {
				msg = fmt.Sprintf("ETA in %d second(s)", int(eta))
			}
			klog.Debugf(DownloaderProgressMsg, url, resp.Progress()*100, msg)
		case <-resp.Done:
			if err := resp.Err(); err != nil {
				return err
			}
			klog.Infof(DownloaderCompletedMsg, url, resp.BytesPerSecond()/MiB*8)
			return nil
		}
	}
}
