// Package dedup marks PCR duplicate read pairs among the persisted
// abnormal alignments. Two fragments from the same source whose reads
// map to identical coordinates (chr, pos, mate chr, mate pos) are
// duplicates; one fragment stays primary and the others have their
// abnormal type reset so clustering no longer sees them. Rows are
// never deleted.
package dedup

import (
	"github.com/grailbio/base/log"

	"github.com/grailbio/sider/db"
)

const (
	// Matches the ingest stage's abnormal.TypeNone.
	abnormalNone = 0
)

type key struct {
	chrom     string
	pos       int64
	chromNext string
	posNext   int64
	sourceID  int64
}

type member struct {
	qname    string
	sourceID int64
}

// Dedup marks duplicate fragments in d. Marking both mates of a
// duplicated fragment together is guaranteed by keying the duplicate
// set on (qname, source_id) rather than on row ids.
func Dedup(d *db.DB) error {
	log.Debug.Printf("dedup: create temporary table dup")
	err := d.Exec(
		"DROP TABLE IF EXISTS dup;\n" +
			"CREATE TABLE dup (\n" +
			"	qname TEXT NOT NULL,\n" +
			"	source_id INTEGER NOT NULL,\n" +
			"	is_primary INTEGER NOT NULL,\n" +
			"	PRIMARY KEY (qname, source_id))")
	if err != nil {
		return err
	}

	log.Printf("dedup: mark duplicated reads")
	if err := markDup(d); err != nil {
		return err
	}

	log.Printf("dedup: reset duplicated reads to no abnormal type")
	err = d.Exec(
		"UPDATE alignment\n"+
			"SET type = ?\n"+
			"WHERE (qname, source_id) IN (\n"+
			"	SELECT qname, source_id\n"+
			"	FROM dup\n"+
			"	WHERE is_primary = 0)", abnormalNone)
	if err != nil {
		return err
	}
	return d.Exec("DROP TABLE dup")
}

func markDup(d *db.DB) error {
	ins, err := d.Prepare(
		"INSERT OR IGNORE INTO dup (qname,source_id,is_primary) VALUES (?,?,?)")
	if err != nil {
		return err
	}
	defer ins.Close()

	rows, err := d.Query(
		"SELECT id, qname, chr, pos, chr_next, pos_next, source_id\n" +
			"FROM alignment\n" +
			"ORDER BY source_id ASC,\n" +
			"	chr ASC, pos ASC,\n" +
			"	chr_next ASC, pos_next ASC,\n" +
			"	qname ASC")
	if err != nil {
		return err
	}
	defer rows.Close()

	flush := func(group []member) error {
		if len(group) < 2 {
			return nil
		}
		if err := ins.Exec(group[0].qname, group[0].sourceID, 1); err != nil {
			return err
		}
		for _, m := range group[1:] {
			log.Debug.Printf("dedup: duplicate fragment %q from source %d",
				m.qname, m.sourceID)
			if err := ins.Exec(m.qname, m.sourceID, 0); err != nil {
				return err
			}
		}
		return nil
	}

	var (
		group     []member
		prev      key
		prevQName string
		first     = true
	)
	for rows.Next() {
		var (
			id    int64
			m     member
			k     key
			qname string
		)
		err := rows.Scan(&id, &qname, &k.chrom, &k.pos, &k.chromNext,
			&k.posNext, &k.sourceID)
		if err != nil {
			return err
		}
		m = member{qname: qname, sourceID: k.sourceID}

		switch {
		case first:
			first = false
		case k != prev:
			if err := flush(group); err != nil {
				return err
			}
			group = group[:0]
		case qname == prevQName:
			// Both mates of a fragment mapping to the same coordinate
			// pair; not a duplicate of itself.
			continue
		}

		group = append(group, m)
		prev = k
		prevQName = qname
	}
	if err := rows.Err(); err != nil {
		return err
	}
	return flush(group)
}
