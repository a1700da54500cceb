package pipeline

// DDL creates the staging, fact and dimension tables in a SQLite warehouse.
var DDL = []string{
	`CREATE TABLE IF NOT EXISTS staging_events (
		artist TEXT, auth TEXT, firstname TEXT, gender TEXT, iteminsession INTEGER,
		lastname TEXT, length REAL, level TEXT, location TEXT, method TEXT,
		page TEXT, registration REAL, sessionid INTEGER, song TEXT,
		status INTEGER, ts INTEGER, useragent TEXT, userid INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS staging_songs (
		num_songs INTEGER, artist_id TEXT, artist_name TEXT, artist_latitude REAL,
		artist_longitude REAL, artist_location TEXT, song_id TEXT, title TEXT,
		duration REAL, year INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS songplays (
		playid TEXT, start_time TEXT, userid INTEGER, level TEXT, songid TEXT,
		artistid TEXT, sessionid INTEGER, location TEXT, user_agent TEXT,
		run_partition TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		userid INTEGER, first_name TEXT, last_name TEXT, gender TEXT, level TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS songs (
		songid TEXT, title TEXT, artistid TEXT, year INTEGER, duration REAL
	)`,
	`CREATE TABLE IF NOT EXISTS artists (
		artistid TEXT, name TEXT, location TEXT, latitude REAL, longitude REAL
	)`,
	`CREATE TABLE IF NOT EXISTS time (
		start_time TEXT, hour INTEGER, day INTEGER, week INTEGER, month INTEGER,
		year INTEGER, weekday INTEGER
	)`,
}

// Tables lists every table the pipeline writes, staging first.
var Tables = []string{"staging_events", "staging_songs", "songplays", "users", "songs", "artists", "time"}

const songplayInsert = `SELECT
	e.sessionid || '-' || e.ts,
	strftime('%Y-%m-%d %H:%M:%S', e.ts / 1000, 'unixepoch'),
	e.userid, e.level, s.song_id, s.artist_id, e.sessionid, e.location, e.useragent,
	'{{ .PartitionKey }}'
FROM staging_events e
LEFT JOIN staging_songs s
	ON e.song = s.title AND e.artist = s.artist_name AND e.length = s.duration
WHERE e.page = 'NextSong'`

const userInsert = `SELECT DISTINCT userid, firstname, lastname, gender, level
FROM staging_events
WHERE page = 'NextSong' AND userid IS NOT NULL`

const songInsert = `SELECT DISTINCT song_id, title, artist_id, year, duration
FROM staging_songs
WHERE song_id IS NOT NULL`

const artistInsert = `SELECT DISTINCT artist_id, artist_name, artist_location, artist_latitude, artist_longitude
FROM staging_songs
WHERE artist_id IS NOT NULL`

const timeInsert = `SELECT DISTINCT start_time,
	CAST(strftime('%H', start_time) AS INTEGER),
	CAST(strftime('%d', start_time) AS INTEGER),
	CAST(strftime('%W', start_time) AS INTEGER),
	CAST(strftime('%m', start_time) AS INTEGER),
	CAST(strftime('%Y', start_time) AS INTEGER),
	CAST(strftime('%w', start_time) AS INTEGER)
FROM songplays`

const nullSongIDCheck = `SELECT count(*) FROM songs WHERE songid IS NULL`
