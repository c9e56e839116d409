// Package domain models streamflow discharge data and the incremental-pull
// (smart append) policy used to synchronize it from upstream agencies.
//
// # Data Sources
//
// Discharge observations come from three upstream agencies:
//
//   - USGS: NWIS water services (https://waterservices.usgs.gov/nwis),
//     parameter code 00060 (discharge), values in cubic feet per second
//     ("cfs"). Daily values (dv) and instantaneous values (iv) endpoints map
//     to the daily_mean and realtime_subdaily series.
//   - Environment Canada: wateroffice real-time CSV service, parameter
//     code 47 (discharge), values in cubic metres per second ("cms").
//     Feed timestamps are local standard time and are converted to UTC with
//     a fixed offset, never the process timezone. Daily means are computed
//     from the realtime feed.
//   - NOAA: NWPS gauge API (https://api.water.noaa.gov/nwps/v1). Gauges are
//     addressed by NOAA-HADS identifiers, so USGS station numbers must be
//     translated through the station mapping table first. NOAA supplies both
//     observed discharge and short-range forecasts.
//
// # Series Types and Quality Codes
//
// A series type tags the granularity of an observation stream: "daily_mean"
// for one value per UTC day, "realtime_subdaily" for raw gauge readings
// (typically 15-minute). Quality codes are passed through from the agency
// ("P" provisional, "A" approved/aggregated) and never influence dedup:
// (station, observed_at, series_type) identifies a point regardless of its
// quality tag, and the first stored value wins.
//
// # Smart Append
//
// Each (configuration, station) pair carries a checkpoint: the latest
// observed_at through which that pair has been synchronized. A pull fetches
// the half-open window [checkpoint ?? pull_start_date, now). The checkpoint
// advances to the maximum fetched timestamp whenever a fetch returns
// anything, including records later rejected by validation or dropped as
// duplicates, so a window full of bad data is still marked caught-up
// instead of being re-pulled forever. Overlap between consecutive windows is
// absorbed by the storage uniqueness constraint, not by the tracker.
//
// Units are stored as received; cfs and cms are distinct unit tags and no
// cross-agency conversion is performed.
package domain
