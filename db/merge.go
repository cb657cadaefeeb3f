package db

import (
	"github.com/grailbio/base/log"
	"github.com/pkg/errors"
)

// Merge copies the ingest tables (batch, source, exon, alignment,
// overlapping) of every database in paths into d, offsetting primary
// keys by the current MAX(id) of each table so merged rows never
// collide. Exons are deduplicated on their external exon id; their
// overlap rows are remapped onto the surviving exon row.
func (d *DB) Merge(paths []string) error {
	for _, path := range paths {
		log.Printf("db: merge %s into %s", path, d.path)
		src, err := Connect(path)
		if err != nil {
			return err
		}
		err = d.mergeOne(src)
		if cerr := src.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return errors.Wrapf(err, "db: merge %s", path)
		}
	}
	return nil
}

func (d *DB) maxID(table string) (int64, error) {
	var id int64
	// The write connection sees rows merged earlier in the open
	// transaction; the read pool does not.
	row := d.w.QueryRow("SELECT COALESCE(MAX(id), 0) FROM " + table)
	err := row.Scan(&id)
	return id, err
}

func (d *DB) mergeOne(src *DB) error {
	var maxBatch, maxSource, maxExon, maxAlignment int64
	for _, t := range []struct {
		table string
		dst   *int64
	}{
		{"batch", &maxBatch},
		{"source", &maxSource},
		{"exon", &maxExon},
		{"alignment", &maxAlignment},
	} {
		var err error
		if *t.dst, err = d.maxID(t.table); err != nil {
			return err
		}
	}

	// External exon ids already present keep their row; incoming
	// duplicates are remapped onto it.
	exonByEnse := make(map[string]int64)
	rows, err := d.w.Query("SELECT id, ense FROM exon")
	if err != nil {
		return err
	}
	for rows.Next() {
		var (
			id   int64
			ense string
		)
		if err := rows.Scan(&id, &ense); err != nil {
			_ = rows.Close()
			return err
		}
		exonByEnse[ense] = id
	}
	if err := rows.Err(); err != nil {
		return err
	}

	if err := d.mergeBatch(src, maxBatch); err != nil {
		return err
	}
	if err := d.mergeSource(src, maxSource, maxBatch); err != nil {
		return err
	}
	exonIDMap, err := d.mergeExon(src, maxExon, exonByEnse)
	if err != nil {
		return err
	}
	if err := d.mergeAlignment(src, maxAlignment, maxSource); err != nil {
		return err
	}
	return d.mergeOverlapping(src, exonIDMap, maxAlignment)
}

func (d *DB) mergeBatch(src *DB, maxBatch int64) error {
	stmt, err := d.PrepareBatch()
	if err != nil {
		return err
	}
	defer stmt.Close()

	rows, err := src.Query("SELECT id, timestamp FROM batch")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id        int64
			timestamp string
		)
		if err := rows.Scan(&id, &timestamp); err != nil {
			return err
		}
		if err := stmt.Insert(id+maxBatch, timestamp); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *DB) mergeSource(src *DB, maxSource, maxBatch int64) error {
	stmt, err := d.PrepareSource()
	if err != nil {
		return err
	}
	defer stmt.Close()

	rows, err := src.Query("SELECT id, batch_id, path FROM source")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, batchID int64
			path        string
		)
		if err := rows.Scan(&id, &batchID, &path); err != nil {
			return err
		}
		if err := stmt.Insert(id+maxSource, batchID+maxBatch, path); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *DB) mergeExon(src *DB, maxExon int64, exonByEnse map[string]int64) (map[int64]int64, error) {
	stmt, err := d.PrepareExon()
	if err != nil {
		return nil, err
	}
	defer stmt.Close()

	idMap := make(map[int64]int64)
	rows, err := src.Query("SELECT id, gene_name, chr, start, end, strand, ensg, ense FROM exon")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, start, end     int64
			geneName, chrom    string
			strand, ensg, ense string
		)
		if err := rows.Scan(&id, &geneName, &chrom, &start, &end, &strand, &ensg, &ense); err != nil {
			return nil, err
		}
		if existing, ok := exonByEnse[ense]; ok {
			idMap[id] = existing
			continue
		}
		newID := id + maxExon
		if err := stmt.Insert(newID, geneName, chrom, start, end, strand, ensg, ense); err != nil {
			return nil, err
		}
		exonByEnse[ense] = newID
		idMap[id] = newID
	}
	return idMap, rows.Err()
}

func (d *DB) mergeAlignment(src *DB, maxAlignment, maxSource int64) error {
	stmt, err := d.PrepareAlignment()
	if err != nil {
		return err
	}
	defer stmt.Close()

	rows, err := src.Query(
		"SELECT id, qname, flag, chr, pos, mapq, cigar, qlen, rlen, chr_next, pos_next, type, source_id\n" +
			"FROM alignment")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, pos, posNext, sourceID     int64
			flag, mapq, qlen, rlen, typ    int
			qname, chrom, cigar, chromNext string
		)
		err := rows.Scan(&id, &qname, &flag, &chrom, &pos, &mapq, &cigar,
			&qlen, &rlen, &chromNext, &posNext, &typ, &sourceID)
		if err != nil {
			return err
		}
		err = stmt.Insert(id+maxAlignment, qname, flag, chrom, pos, mapq,
			cigar, qlen, rlen, chromNext, posNext, typ, sourceID+maxSource)
		if err != nil {
			return err
		}
	}
	return rows.Err()
}

func (d *DB) mergeOverlapping(src *DB, exonIDMap map[int64]int64, maxAlignment int64) error {
	stmt, err := d.PrepareOverlapping()
	if err != nil {
		return err
	}
	defer stmt.Close()

	rows, err := src.Query("SELECT exon_id, alignment_id, pos, len FROM overlapping")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var exonID, alignmentID, pos, length int64
		if err := rows.Scan(&exonID, &alignmentID, &pos, &length); err != nil {
			return err
		}
		newExonID, ok := exonIDMap[exonID]
		if !ok {
			return errors.Errorf("overlap references unknown exon %d", exonID)
		}
		if err := stmt.Insert(newExonID, alignmentID+maxAlignment, pos, length); err != nil {
			return err
		}
	}
	return rows.Err()
}
