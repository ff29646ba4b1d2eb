package ingest

import "time"

// Counts summarizes ingested files that fall in one hourly time slot.
type Counts struct {
	Time  time.Time
	Files int
	Size  int64
}

// StrikeStatus summarizes ingest activity attributed to one strike
// process over a reporting window.
type StrikeStatus struct {
	StrikeID   string
	MostRecent time.Time
	Files      int
	Size       int64
	Values     []Counts
}

// Rollup buckets every INGESTED ingest into hourly UTC time slots keyed
// by DataStarted (useIngestTime false) or IngestEnded (useIngestTime
// true), per strike, then fills every hourly slot between started and
// ended with a zero-valued Counts where no ingest landed. strikeIDs
// lists every known strike process so a strike with zero matching
// ingests still gets a fully zero-filled StrikeStatus.
func Rollup(ingests []Ingest, strikeIDs []string, started, ended time.Time, useIngestTime bool) []StrikeStatus {
	statusByStrike := make(map[string]*StrikeStatus, len(strikeIDs))
	slotsByStrike := make(map[string]map[time.Time]*Counts, len(strikeIDs))
	for _, id := range strikeIDs {
		statusByStrike[id] = &StrikeStatus{StrikeID: id}
		slotsByStrike[id] = make(map[time.Time]*Counts)
	}

	for _, ing := range ingests {
		if ing.Status != StatusIngested {
			continue
		}
		status, ok := statusByStrike[ing.StrikeID]
		if !ok {
			continue
		}

		var dated time.Time
		if useIngestTime {
			dated = ing.IngestEnded
		} else {
			dated = ing.DataStarted
		}
		if dated.IsZero() {
			continue
		}

		updateStatus(status, slotsByStrike[ing.StrikeID], ing, dated)
	}

	if started.IsZero() {
		now := time.Now().UTC()
		started = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if ended.IsZero() {
		now := time.Now().UTC()
		ended = time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 999999999, time.UTC)
	}

	out := make([]StrikeStatus, 0, len(strikeIDs))
	for _, id := range strikeIDs {
		out = append(out, fillStatus(*statusByStrike[id], slotsByStrike[id], started, ended))
	}
	return out
}

func updateStatus(status *StrikeStatus, slots map[time.Time]*Counts, ing Ingest, dated time.Time) {
	utc := dated.UTC()
	slot := time.Date(utc.Year(), utc.Month(), utc.Day(), utc.Hour(), 0, 0, 0, time.UTC)

	c, ok := slots[slot]
	if !ok {
		c = &Counts{Time: slot}
		slots[slot] = c
	}
	c.Files++
	c.Size += ing.FileSize

	status.Files++
	status.Size += ing.FileSize
	if status.MostRecent.IsZero() || dated.After(status.MostRecent) {
		status.MostRecent = dated
	}
}

// fillStatus ensures every hourly bin between started and ended has a
// value, even when no ingest landed in it. The result always holds
// exactly 24*(days spanned) hours of values.
func fillStatus(status StrikeStatus, slots map[time.Time]*Counts, started, ended time.Time) StrikeStatus {
	started, ended = started.UTC(), ended.UTC()
	startDay := time.Date(started.Year(), started.Month(), started.Day(), 0, 0, 0, 0, time.UTC)
	endDay := time.Date(ended.Year(), ended.Month(), ended.Day(), 0, 0, 0, 0, time.UTC)
	days := int(endDay.Sub(startDay).Hours()/24) + 1

	values := make([]Counts, 0, days*24)
	for day := 0; day < days; day++ {
		dated := startDay.AddDate(0, 0, day)
		for hour := 0; hour < 24; hour++ {
			slot := time.Date(dated.Year(), dated.Month(), dated.Day(), hour, 0, 0, 0, time.UTC)
			if c, ok := slots[slot]; ok {
				values = append(values, *c)
			} else {
				values = append(values, Counts{Time: slot})
			}
		}
	}

	status.Values = values
	return status
}
