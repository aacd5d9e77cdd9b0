package netLayer

import (
	"net"
	"os"
	"sync/atomic"

	"github.com/e1732a364fed/seeker/utils"
	"github.com/oschwald/maxminddb-golang"
	"go.uber.org/zap"
)

const DefaultGeoipFileName = "GeoLite2-Country.mmdb"

var the_geoipdb atomic.Value // *maxminddb.Reader

func getGeoipDB() *maxminddb.Reader {
	db, _ := the_geoipdb.Load().(*maxminddb.Reader)
	return db
}

func LoadMaxmindGeoipBytes(bs []byte) error {
	db, err := maxminddb.FromBytes(bs)
	if err != nil {
		return err
	}
	the_geoipdb.Store(db)
	return nil
}

// LoadMaxmindGeoipFile 将一个外部的 mmdb 文件加载为默认的 geoip 数据库; 若fn==""，则使用 DefaultGeoipFileName
func LoadMaxmindGeoipFile(fn string) error {
	if fn == "" {
		fn = DefaultGeoipFileName
	}
	if p := utils.GetFilePath(fn); p != "" {
		fn = p
	}
	bs, err := os.ReadFile(fn)
	if err != nil {
		return err
	}
	return LoadMaxmindGeoipBytes(bs)
}

func HasGeoip() bool {
	return getGeoipDB() != nil
}

// 使用默认的 geoip数据库, 未加载时返回 ""
func GetIP_ISO(ip net.IP) string {
	db := getGeoipDB()
	if db == nil {
		return ""
	}
	return GetIP_ISO_byReader(db, ip)
}

// 返回 iso 3166 字符串，大写，两字节
func GetIP_ISO_byReader(db *maxminddb.Reader, ip net.IP) string {
	var record struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
	}

	err := db.Lookup(ip, &record)
	if err != nil {
		if ce := utils.CanLogErr("GetIP_ISO_byReader db.Lookup err"); ce != nil {
			ce.Write(zap.Error(err))
		}
		return ""
	}
	return record.Country.ISOCode
}
